// Package admin implements the operator-facing surface (§6): backend
// health, cache introspection, a live request event stream, and the
// OAuth authorize/callback/status/refresh/logout flow for
// OAuth-authenticated backends. None of these routes touch the request
// pipeline's hot path; they exist for humans and dashboards.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inferswitch/gateway/internal/logbus"
	"github.com/inferswitch/gateway/internal/oauth"
	"github.com/inferswitch/gateway/internal/pipeline"
)

// Handler serves the admin surface. oauthManagers is keyed by backend
// name; a backend with AuthMode other than oauth simply has no entry.
type Handler struct {
	pipe          *pipeline.Pipeline
	bus           *logbus.Bus
	oauthManagers map[string]*oauth.Manager
}

func NewHandler(pipe *pipeline.Pipeline, bus *logbus.Bus, oauthManagers map[string]*oauth.Manager) *Handler {
	if oauthManagers == nil {
		oauthManagers = map[string]*oauth.Manager{}
	}
	return &Handler{pipe: pipe, bus: bus, oauthManagers: oauthManagers}
}

// EventsRoutes serves GET /admin/events — the only route spec.md's
// admin-prefixed surface names.
func (h *Handler) EventsRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", h.events)
	return r
}

// BackendsRoutes serves GET /backends/status, a top-level route per
// spec.md §6 (not nested under /admin).
func (h *Handler) BackendsRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.backendsStatus)
	return r
}

// CacheRoutes serves GET /cache/stats and POST /cache/clear, top-level
// per spec.md §6.
func (h *Handler) CacheRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.cacheStats)
	r.Post("/clear", h.cacheClear)
	return r
}

// OAuthRoutes serves the OAuth collaborator surface named in spec.md
// §6 verbatim: GET|POST /oauth/{authorize,callback,status,refresh,logout},
// with no backend segment in the path. A `backend` query parameter
// selects which configured OAuth manager to act on; with exactly one
// OAuth-authenticated backend configured (the common case) it may be
// omitted.
func (h *Handler) OAuthRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/authorize", h.oauthAuthorize)
	r.Get("/callback", h.oauthCallback)
	r.Get("/status", h.oauthStatus)
	r.Post("/refresh", h.oauthRefresh)
	r.Post("/logout", h.oauthLogout)
	return r
}

// backendEntry is one row of the GET /backends/status response: static
// config plus a live health probe.
type backendEntry struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Healthy   bool   `json:"healthy"`
	HealthErr string `json:"health_error,omitempty"`
}

// disabledModel is one row of the temporary-blacklist snapshot (§4.3):
// a model is disabled network-wide, independent of which backend would
// have served it.
type disabledModel struct {
	Model string    `json:"model"`
	Until time.Time `json:"until"`
}

type backendsStatusResponse struct {
	Backends       []backendEntry  `json:"backends"`
	DisabledModels []disabledModel `json:"disabled_models"`
}

func (h *Handler) backendsStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.pipe.Config()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entries := make([]backendEntry, 0, len(cfg.Backends))
	for name, b := range cfg.Backends {
		entry := backendEntry{Name: name, Kind: string(b.Kind)}
		adapter, ok := h.pipe.Registry().Get(name)
		if !ok {
			entry.HealthErr = "no adapter registered"
		} else if err := adapter.Health(ctx); err != nil {
			entry.HealthErr = err.Error()
		} else {
			entry.Healthy = true
		}
		entries = append(entries, entry)
	}

	snap := h.pipe.Availability().Snapshot()
	disabled := make([]disabledModel, 0, len(snap))
	for _, e := range snap {
		disabled = append(disabled, disabledModel{Model: e.Model, Until: e.Until})
	}

	writeJSON(w, http.StatusOK, backendsStatusResponse{Backends: entries, DisabledModels: disabled})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipe.Cache().Stats())
}

func (h *Handler) cacheClear(w http.ResponseWriter, r *http.Request) {
	n := h.pipe.Cache().Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// events tails the request event bus over SSE, for a live operator
// console. It blocks until the client disconnects.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "event bus not configured", http.StatusServiceUnavailable)
		return
	}
	h.bus.ServeSSE(w, r)
}

// managerFor resolves the oauth.Manager a request targets. An explicit
// ?backend= query param selects one by name; otherwise, if exactly one
// OAuth-authenticated backend is configured, that one is implied.
func (h *Handler) managerFor(w http.ResponseWriter, r *http.Request) (*oauth.Manager, bool) {
	name := strings.TrimSpace(r.URL.Query().Get("backend"))
	if name != "" {
		m, ok := h.oauthManagers[name]
		if !ok {
			http.Error(w, "backend has no oauth manager configured", http.StatusNotFound)
			return nil, false
		}
		return m, true
	}
	if len(h.oauthManagers) == 1 {
		for _, m := range h.oauthManagers {
			return m, true
		}
	}
	http.Error(w, "backend query param required: multiple (or zero) oauth-authenticated backends configured", http.StatusBadRequest)
	return nil, false
}

func (h *Handler) oauthAuthorize(w http.ResponseWriter, r *http.Request) {
	m, ok := h.managerFor(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, m.AuthURL(), http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	m, ok := h.managerFor(w, r)
	if !ok {
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}
	if err := m.HandleCallback(r.Context(), code, state); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (h *Handler) oauthStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := h.managerFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Status())
}

func (h *Handler) oauthRefresh(w http.ResponseWriter, r *http.Request) {
	m, ok := h.managerFor(w, r)
	if !ok {
		return
	}
	if _, err := m.Token(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, m.Status())
}

func (h *Handler) oauthLogout(w http.ResponseWriter, r *http.Request) {
	m, ok := h.managerFor(w, r)
	if !ok {
		return
	}
	if err := m.Logout(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	out, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}
