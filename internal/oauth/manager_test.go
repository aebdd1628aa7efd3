package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/inferswitch/gateway/internal/crypto"
)

func newTestManager(t *testing.T, issuer string) *Manager {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	m := NewManager("anthropic", "client-123", issuer, "http://localhost:1235/oauth/callback", nil)
	return m
}

func TestAuthURLContainsStateAndChallenge(t *testing.T) {
	m := newTestManager(t, "https://console.anthropic.com")
	u := m.AuthURL()
	if !strings.Contains(u, "code_challenge=") {
		t.Fatalf("missing PKCE challenge: %s", u)
	}
	if !strings.Contains(u, "state="+m.state) {
		t.Fatalf("missing state param: %s", u)
	}
}

func TestHandleCallbackRejectsBadState(t *testing.T) {
	m := newTestManager(t, "https://console.anthropic.com")
	m.AuthURL()
	if err := m.HandleCallback(context.Background(), "code", "wrong-state"); err == nil {
		t.Fatalf("expected state mismatch error")
	}
}

func TestHandleCallbackExchangesAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600, "token_type": "Bearer",
		})
	}))
	defer srv.Close()

	m := newTestManager(t, "https://console.anthropic.com")
	m.cfg.Endpoint.TokenURL = srv.URL
	m.AuthURL()
	state := m.state

	if err := m.HandleCallback(context.Background(), "auth-code", state); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "at-1" {
		t.Fatalf("got token %q, want at-1", tok)
	}

	if _, err := os.Stat(m.path); err != nil {
		t.Fatalf("expected persisted token file: %v", err)
	}
}

func TestTokenRefreshesWhenExpired(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-fresh", "refresh_token": "rt-fresh", "expires_in": 3600, "token_type": "Bearer",
		})
	}))
	defer srv.Close()

	m := newTestManager(t, "https://console.anthropic.com")
	m.cfg.Endpoint.TokenURL = srv.URL
	m.tokens = &storedTokens{AccessToken: "stale", RefreshToken: "rt-old", Expiry: time.Now().Add(-time.Minute)}

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "at-fresh" {
		t.Fatalf("got %q, want at-fresh", tok)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", calls)
	}
}

func TestTokenFailsWithNoCredentials(t *testing.T) {
	m := newTestManager(t, "https://console.anthropic.com")
	if _, err := m.Token(context.Background()); err == nil {
		t.Fatalf("expected error with no stored credentials")
	}
}

func TestStatusReflectsPersistedState(t *testing.T) {
	m := newTestManager(t, "https://console.anthropic.com")
	if m.Status().Authenticated {
		t.Fatalf("expected unauthenticated before any tokens")
	}
	m.tokens = &storedTokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	if err := m.persistLocked(); err != nil {
		t.Fatalf("persistLocked: %v", err)
	}
	m.tokens = nil
	if !m.Status().Authenticated {
		t.Fatalf("expected authenticated after loading persisted tokens")
	}
}

func TestLogoutRemovesPersistedFile(t *testing.T) {
	m := newTestManager(t, "https://console.anthropic.com")
	m.tokens = &storedTokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	if err := m.persistLocked(); err != nil {
		t.Fatalf("persistLocked: %v", err)
	}
	if err := m.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := os.Stat(m.path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed")
	}
}

func TestPersistEncryptsWhenCipherConfigured(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := crypto.NewAESGCMFromBase64Key(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	m := NewManager("anthropic", "client", "https://console.anthropic.com", "http://localhost/oauth/callback", c)
	m.tokens = &storedTokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	if err := m.persistLocked(); err != nil {
		t.Fatalf("persistLocked: %v", err)
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "at") && strings.Contains(string(raw), "\"access_token\"") {
		t.Fatalf("expected ciphertext, found plaintext json: %s", raw)
	}

	m2 := NewManager("anthropic", "client", "https://console.anthropic.com", "http://localhost/oauth/callback", c)
	m2.path = m.path
	if err := m2.loadLocked(); err != nil {
		t.Fatalf("loadLocked: %v", err)
	}
	if m2.tokens.AccessToken != "at" {
		t.Fatalf("decrypted access token = %q, want at", m2.tokens.AccessToken)
	}
}
