package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/inferswitch/gateway/internal/admin"
	"github.com/inferswitch/gateway/internal/availability"
	"github.com/inferswitch/gateway/internal/backend"
	"github.com/inferswitch/gateway/internal/cache"
	"github.com/inferswitch/gateway/internal/classify"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/crypto"
	"github.com/inferswitch/gateway/internal/db"
	"github.com/inferswitch/gateway/internal/facade/anthropic"
	"github.com/inferswitch/gateway/internal/facade/openai"
	"github.com/inferswitch/gateway/internal/logbus"
	"github.com/inferswitch/gateway/internal/metrics"
	"github.com/inferswitch/gateway/internal/oauth"
	"github.com/inferswitch/gateway/internal/pipeline"
	"github.com/inferswitch/gateway/internal/router"
)

// exit codes per the deployment contract: 0 clean shutdown, 1 config
// error, 2 unable to bind the listen address.
const (
	exitOK          = 0
	exitConfigError = 1
	exitBindError   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Resolve()
	if err != nil {
		log.Printf("config: %v", err)
		return exitConfigError
	}

	var cipher *crypto.AESGCM
	if cfg.KeyEncMasterB64 != "" {
		cipher, err = crypto.NewAESGCMFromBase64Key(cfg.KeyEncMasterB64)
		if err != nil {
			log.Printf("cipher: %v", err)
			return exitConfigError
		}
	}

	var sqlDB *sql.DB
	if cfg.AuditMySQLDSN != "" {
		conn, err := db.Open(cfg.AuditMySQLDSN)
		if err != nil {
			log.Printf("audit db open: %v", err)
			return exitConfigError
		}
		if err := db.Migrate(conn); err != nil {
			log.Printf("audit db migrate: %v", err)
			return exitConfigError
		}
		sqlDB = conn
		defer sqlDB.Close()
	}

	oauthManagers := make(map[string]*oauth.Manager)
	redirectBase := strings.TrimRight(os.Getenv("INFERSWITCH_OAUTH_REDIRECT_BASE"), "/")
	if redirectBase == "" {
		redirectBase = "http://localhost" + cfg.HTTPAddr
	}
	tokens := make(map[string]backend.TokenProvider)
	for name, b := range cfg.Backends {
		if b.AuthMode != config.AuthOAuth {
			continue
		}
		redirectURL := redirectBase + "/oauth/callback?backend=" + name
		m := oauth.NewManager(name, b.OAuthClientID, b.OAuthIssuer, redirectURL, cipher)
		oauthManagers[name] = m
		tokens[name] = m
	}

	m := metrics.New()
	reg := backend.BuildRegistry(cfg, tokens)
	avail := availability.New(time.Duration(cfg.DisableDurationSeconds) * time.Second)
	rt := router.New(cfg, avail, classify.NewHeuristic())
	c := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	pipe := pipeline.New(cfg, rt, avail, c, reg)

	bus := logbus.New(sqlDB, 500)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Anthropic-Version", "X-Backend"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/metrics", m.Handler())

	v1 := chi.NewRouter()
	if cfg.ClientToken != "" {
		v1.Use(clientAuthMiddleware(cfg.ClientToken))
	}
	v1.Mount("/", anthropic.NewHandler(pipe, m, bus).Routes())
	v1.Mount("/", openai.NewHandler(pipe, m, bus).Routes())
	r.Mount("/v1", v1)

	// /admin, /backends, /cache, and /oauth are siblings, not nested:
	// spec.md §6 names GET /backends/status, GET|POST /cache/*, and
	// /oauth/* as top-level routes, distinct from the admin-only
	// GET /admin/events tail.
	adminHandler := admin.NewHandler(pipe, bus, oauthManagers)
	operatorRoutes := chi.NewRouter()
	if cfg.AdminToken != "" {
		operatorRoutes.Use(clientAuthMiddleware(cfg.AdminToken))
	}
	operatorRoutes.Mount("/admin", adminHandler.EventsRoutes())
	operatorRoutes.Mount("/backends", adminHandler.BackendsRoutes())
	operatorRoutes.Mount("/cache", adminHandler.CacheRoutes())
	operatorRoutes.Mount("/oauth", adminHandler.OAuthRoutes())
	r.Mount("/", operatorRoutes)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := listen(cfg.HTTPAddr)
	if err != nil {
		log.Printf("listen: %v", err)
		return exitBindError
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		serveErr <- srv.Serve(ln)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("serve: %v", err)
			return exitBindError
		}
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}

	return exitOK
}

func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func clientAuthMiddleware(token string) func(http.Handler) http.Handler {
	want := token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(got, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(got, "Bearer "))
			} else {
				got = strings.TrimSpace(r.Header.Get("x-api-key"))
			}
			if got == "" {
				got = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}
			if got != want {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
