// Package config resolves the gateway's effective configuration by
// layering built-in defaults, an optional JSON file, environment
// variables, and (for a documented subset of keys) per-request headers.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// AuthMode enumerates how a backend authenticates outbound calls.
type AuthMode string

const (
	AuthStaticKey AuthMode = "static_key"
	AuthOAuth     AuthMode = "oauth"
	AuthNone      AuthMode = "none"
)

// Kind enumerates the adapter family a backend is served by.
type Kind string

const (
	KindAnthropic      Kind = "anthropic"
	KindOpenAICompat   Kind = "openai-compatible"
)

// Backend is one entry of the `backends.<name>` config table.
type Backend struct {
	Name           string
	Kind           Kind
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	AuthMode       AuthMode
	OAuthClientID  string
	OAuthIssuer    string

	// MaxOutputTokens is the largest max_tokens this backend accepts, 0
	// meaning no configured limit. The pipeline clamps a larger
	// client-requested value to it for each candidate on this backend
	// rather than forwarding it verbatim.
	MaxOutputTokens int
}

// Fallback is the `fallback.{provider,model}` block.
type Fallback struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// CacheConfig is the `cache.*` block.
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	MaxEntries int  `json:"max_entries"`
	TTLSeconds int  `json:"ttl_seconds"`
}

// fileBackend mirrors Backend's JSON shape inside the config file.
type fileBackend struct {
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

type fileProvidersAuth struct {
	OAuth struct {
		ClientID string `json:"client_id"`
		Issuer   string `json:"issuer"`
	} `json:"oauth"`
}

// fileConfig is the on-disk JSON document shape (§4.1).
type fileConfig struct {
	ForceBackendEnv        string                         `json:"-"`
	HTTPAddr               string                         `json:"http_addr"`
	AdminToken             string                         `json:"admin_token"`
	ClientToken            string                         `json:"client_token"`
	KeyEncMasterB64        string                         `json:"key_enc_master_b64"`
	CORSAllowedOrigins     []string                       `json:"cors_allowed_origins"`
	AuditMySQLDSN          string                         `json:"audit_mysql_dsn"`
	Backends               map[string]fileBackend         `json:"backends"`
	ModelProviders         map[string]string              `json:"model_providers"`
	ModelOverrides         map[string]string              `json:"model_overrides"`
	DefaultModelOverride   string                         `json:"default_model_override"`
	DifficultyModels       map[string][]string            `json:"difficulty_models"`
	ExpertModels           map[string][]string            `json:"expert_models"`
	ExpertDefinitions      map[string]string              `json:"expert_definitions"`
	ForceExpertRouting     bool                           `json:"force_expert_routing"`
	ForceDifficultyRouting bool                           `json:"force_difficulty_routing"`
	Fallback               *Fallback                      `json:"fallback"`
	Cache                  *CacheConfig                   `json:"cache"`
	DisableDurationSeconds int                            `json:"disable_duration_seconds"`
	ProvidersAuth          map[string]fileProvidersAuth    `json:"providers_auth"`
	ProxyMode              *bool                           `json:"proxy_mode"`
}

// Config is the resolved, immutable snapshot the hot path reads.
type Config struct {
	HTTPAddr           string
	AdminToken         string
	ClientToken        string
	KeyEncMasterB64    string
	CORSAllowedOrigins []string
	AuditMySQLDSN      string

	Backends map[string]Backend

	ModelProviders       map[string]string
	ModelOverrides       map[string]string
	DefaultModelOverride string

	DifficultyModels map[string][]string
	ExpertModels     map[string][]string

	ExpertDefinitions      map[string]string
	ForceExpertRouting     bool
	ForceDifficultyRouting bool

	Fallback Fallback

	Cache CacheConfig

	DisableDurationSeconds int

	ProxyMode bool

	// ForceBackendEnv is rule 2 of §4.5 (INFERSWITCH_BACKEND).
	ForceBackendEnv string
}

// RequestOverrides is the documented subset of keys a client may
// override per request (§4.1): x-backend, x-api-key, anthropic-version,
// plus the Authorization: Bearer equivalence §6 documents for the
// OpenAI-shaped facade.
type RequestOverrides struct {
	Backend          string
	APIKey           string
	AnthropicVersion string
}

// FromHeaders extracts the request-scoped override subset. Authorization
// is accepted as an equivalent spelling of x-api-key (§6); when both are
// present x-api-key wins, since it is the more specific header.
func FromHeaders(h http.Header) RequestOverrides {
	apiKey := strings.TrimSpace(h.Get("x-api-key"))
	if apiKey == "" {
		if bearer := strings.TrimSpace(h.Get("Authorization")); strings.HasPrefix(bearer, "Bearer ") {
			apiKey = strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
		}
	}
	return RequestOverrides{
		Backend:          strings.TrimSpace(h.Get("x-backend")),
		APIKey:           apiKey,
		AnthropicVersion: strings.TrimSpace(h.Get("anthropic-version")),
	}
}

type overridesCtxKey struct{}

// WithOverrides carries a request's header overrides through ctx so the
// backend adapter layer, several calls deep from the facade handler, can
// apply them without the Adapter interface needing an extra parameter.
func WithOverrides(ctx context.Context, o RequestOverrides) context.Context {
	return context.WithValue(ctx, overridesCtxKey{}, o)
}

// OverridesFromContext returns the overrides stashed by WithOverrides,
// or the zero value if none were set.
func OverridesFromContext(ctx context.Context) RequestOverrides {
	o, _ := ctx.Value(overridesCtxKey{}).(RequestOverrides)
	return o
}

func defaults() fileConfig {
	return fileConfig{
		HTTPAddr:               ":1235",
		CORSAllowedOrigins:     []string{"*"},
		Backends:               map[string]fileBackend{},
		ModelProviders:         map[string]string{},
		ModelOverrides:         map[string]string{},
		DifficultyModels:       map[string][]string{},
		ExpertModels:           map[string][]string{},
		ExpertDefinitions:      map[string]string{},
		Cache:                  &CacheConfig{Enabled: true, MaxEntries: 1000, TTLSeconds: 300},
		DisableDurationSeconds: 300,
		ProvidersAuth:          map[string]fileProvidersAuth{},
	}
}

// Resolve layers defaults, the JSON file named by INFERSWITCH_CONFIG_FILE
// (default ./inferswitch.json, read only if present), and environment
// variables, then validates the result. Malformed JSON, a model_providers
// or fallback reference to an unknown backend, or a backend without
// base_url fails startup. A backend with neither api_key nor an OAuth
// client_id resolves to auth mode none and is accepted; no credential is
// demanded of it.
func Resolve() (Config, error) {
	fc := defaults()

	path := getenvDefault("INFERSWITCH_CONFIG_FILE", "./inferswitch.json")
	if data, err := os.ReadFile(path); err == nil {
		var onDisk fileConfig
		if err := json.Unmarshal(data, &onDisk); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		mergeFile(&fc, onDisk)
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	applyEnv(&fc)

	cfg, err := build(fc)
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(dst *fileConfig, src fileConfig) {
	if src.HTTPAddr != "" {
		dst.HTTPAddr = src.HTTPAddr
	}
	if src.AdminToken != "" {
		dst.AdminToken = src.AdminToken
	}
	if src.ClientToken != "" {
		dst.ClientToken = src.ClientToken
	}
	if src.KeyEncMasterB64 != "" {
		dst.KeyEncMasterB64 = src.KeyEncMasterB64
	}
	if len(src.CORSAllowedOrigins) > 0 {
		dst.CORSAllowedOrigins = src.CORSAllowedOrigins
	}
	if src.AuditMySQLDSN != "" {
		dst.AuditMySQLDSN = src.AuditMySQLDSN
	}
	for k, v := range src.Backends {
		dst.Backends[k] = v
	}
	for k, v := range src.ModelProviders {
		dst.ModelProviders[k] = v
	}
	for k, v := range src.ModelOverrides {
		dst.ModelOverrides[k] = v
	}
	if src.DefaultModelOverride != "" {
		dst.DefaultModelOverride = src.DefaultModelOverride
	}
	for k, v := range src.DifficultyModels {
		dst.DifficultyModels[k] = v
	}
	for k, v := range src.ExpertModels {
		dst.ExpertModels[k] = v
	}
	for k, v := range src.ExpertDefinitions {
		dst.ExpertDefinitions[k] = v
	}
	dst.ForceExpertRouting = dst.ForceExpertRouting || src.ForceExpertRouting
	dst.ForceDifficultyRouting = dst.ForceDifficultyRouting || src.ForceDifficultyRouting
	if src.Fallback != nil {
		dst.Fallback = src.Fallback
	}
	if src.Cache != nil {
		dst.Cache = src.Cache
	}
	if src.DisableDurationSeconds != 0 {
		dst.DisableDurationSeconds = src.DisableDurationSeconds
	}
	for k, v := range src.ProvidersAuth {
		dst.ProvidersAuth[k] = v
	}
	if src.ProxyMode != nil {
		dst.ProxyMode = src.ProxyMode
	}
}

func applyEnv(fc *fileConfig) {
	if v := os.Getenv("INFERSWITCH_PORT"); v != "" {
		fc.HTTPAddr = ":" + v
	}
	if v := os.Getenv("INFERSWITCH_ADMIN_TOKEN"); v != "" {
		fc.AdminToken = v
	}
	if v := os.Getenv("INFERSWITCH_CLIENT_TOKEN"); v != "" {
		fc.ClientToken = v
	}
	if v := os.Getenv("INFERSWITCH_KEY_ENC_MASTER_B64"); v != "" {
		fc.KeyEncMasterB64 = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		fc.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("AUDIT_MYSQL_DSN"); v != "" {
		fc.AuditMySQLDSN = v
	}
	if v := os.Getenv("INFERSWITCH_BACKEND"); v != "" {
		fc.ForceBackendEnv = v
	}
	if v := os.Getenv("PROXY_MODE"); v != "" {
		b := strings.EqualFold(v, "true") || v == "1"
		fc.ProxyMode = &b
	}

	ensureCredentialBackend(fc, "anthropic", KindAnthropic, "ANTHROPIC_API_KEY", "https://api.anthropic.com")
	ensureCredentialBackend(fc, "openai", KindOpenAICompat, "OPENAI_API_KEY", "https://api.openai.com/v1")
	ensureCredentialBackend(fc, "openrouter", KindOpenAICompat, "OPENROUTER_API_KEY", envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"))
	if v := os.Getenv("LM_STUDIO_BASE_URL"); v != "" {
		ensureCredentialBackend(fc, "lm-studio", KindOpenAICompat, "", v)
	}
}

func ensureCredentialBackend(fc *fileConfig, name string, kind Kind, keyEnv, defaultBaseURL string) {
	key := ""
	if keyEnv != "" {
		key = os.Getenv(keyEnv)
	}
	existing, has := fc.Backends[name]
	if !has {
		if key == "" && keyEnv != "" {
			return
		}
		fc.Backends[name] = fileBackend{BaseURL: defaultBaseURL, APIKey: key, TimeoutSeconds: 60}
		return
	}
	if existing.APIKey == "" && key != "" {
		existing.APIKey = key
		fc.Backends[name] = existing
	}
}

func build(fc fileConfig) (Config, error) {
	cfg := Config{
		HTTPAddr:               fc.HTTPAddr,
		AdminToken:             fc.AdminToken,
		ClientToken:            fc.ClientToken,
		KeyEncMasterB64:        fc.KeyEncMasterB64,
		CORSAllowedOrigins:     fc.CORSAllowedOrigins,
		AuditMySQLDSN:          fc.AuditMySQLDSN,
		Backends:               map[string]Backend{},
		ModelProviders:         fc.ModelProviders,
		ModelOverrides:         fc.ModelOverrides,
		DefaultModelOverride:   fc.DefaultModelOverride,
		DifficultyModels:       fc.DifficultyModels,
		ExpertModels:           fc.ExpertModels,
		ExpertDefinitions:      fc.ExpertDefinitions,
		ForceExpertRouting:     fc.ForceExpertRouting,
		ForceDifficultyRouting: fc.ForceDifficultyRouting,
		DisableDurationSeconds: fc.DisableDurationSeconds,
		ProxyMode:              fc.ProxyMode != nil && *fc.ProxyMode,
	}
	if fc.Fallback != nil {
		cfg.Fallback = *fc.Fallback
	}
	if fc.Cache != nil {
		cfg.Cache = *fc.Cache
	}

	for name, b := range fc.Backends {
		kind := KindOpenAICompat
		if name == "anthropic" {
			kind = KindAnthropic
		}
		mode := AuthStaticKey
		if b.APIKey == "" {
			if auth, ok := fc.ProvidersAuth[name]; ok && auth.OAuth.ClientID != "" {
				mode = AuthOAuth
			} else {
				mode = AuthNone
			}
		}
		timeout := b.TimeoutSeconds
		if timeout <= 0 {
			timeout = 60
		}
		backend := Backend{
			Name:            name,
			Kind:            kind,
			BaseURL:         b.BaseURL,
			APIKey:          b.APIKey,
			TimeoutSeconds:  timeout,
			AuthMode:        mode,
			MaxOutputTokens: b.MaxOutputTokens,
		}
		if auth, ok := fc.ProvidersAuth[name]; ok {
			backend.OAuthClientID = auth.OAuth.ClientID
			backend.OAuthIssuer = auth.OAuth.Issuer
		}
		if backend.OAuthIssuer == "" {
			backend.OAuthIssuer = "https://console.anthropic.com"
		}
		cfg.Backends[name] = backend
	}

	if fc.ForceBackendEnv != "" {
		cfg.ForceBackendEnv = fc.ForceBackendEnv
	}
	return cfg, nil
}

func validate(cfg Config) error {
	for model, backend := range cfg.ModelProviders {
		if _, ok := cfg.Backends[backend]; !ok {
			return fmt.Errorf("model_providers[%s] references unknown backend %q", model, backend)
		}
	}
	if cfg.Fallback.Provider != "" {
		if _, ok := cfg.Backends[cfg.Fallback.Provider]; !ok {
			return fmt.Errorf("fallback references unknown backend %q", cfg.Fallback.Provider)
		}
	}
	for name, b := range cfg.Backends {
		if b.AuthMode == AuthStaticKey && b.APIKey == "" {
			return fmt.Errorf("backend %q: static_key auth mode requires api_key", name)
		}
		if b.AuthMode == AuthOAuth && b.OAuthClientID == "" {
			return fmt.Errorf("backend %q: oauth auth mode requires providers_auth.%s.oauth.client_id", name, name)
		}
		if b.BaseURL == "" {
			return fmt.Errorf("backend %q: base_url is required", name)
		}
	}
	if cfg.ExpertModels != nil && cfg.DifficultyModels != nil &&
		len(cfg.ExpertModels) > 0 && len(cfg.DifficultyModels) > 0 {
		// both configured: resolver chooses expert (§4.1), nothing to fail on.
		log.Printf("config: both expert_models and difficulty_models configured, expert_models takes precedence")
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// ParseBucket parses a difficulty_models key, which may be a single
// integer ("3") or an inclusive range ("0-3").
func ParseBucket(key string) (lo, hi int, err error) {
	key = strings.TrimSpace(key)
	if i := strings.IndexByte(key, '-'); i > 0 {
		lo, err = strconv.Atoi(strings.TrimSpace(key[:i]))
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.Atoi(strings.TrimSpace(key[i+1:]))
		if err != nil {
			return 0, 0, err
		}
		return lo, hi, nil
	}
	v, err := strconv.Atoi(key)
	if err != nil {
		return 0, 0, err
	}
	return v, v, nil
}
