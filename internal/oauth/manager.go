// Package oauth implements the Anthropic OAuth credential channel
// (§1(e)): a PKCE authorization-code flow whose only contract with the
// request pipeline is backend.TokenProvider's Token method. The flow
// itself — generating an authorize URL, handling the callback, storing
// and refreshing tokens — lives entirely on the admin surface, matching
// spec.md §1's framing of the OAuth UX as an external collaborator.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/inferswitch/gateway/internal/crypto"
)

// beta value the Anthropic adapter attaches to OAuth-authenticated
// requests, mirrored here so Status() can report it.
const BetaHeader = "oauth-2025-04-20"

type storedTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Manager owns one backend's OAuth state: the pending-flow verifier and
// the current token pair, refreshed lazily on demand.
type Manager struct {
	mu     sync.Mutex
	cfg    *oauth2.Config
	cipher *crypto.AESGCM
	path   string

	verifier string
	state    string

	tokens *storedTokens
}

// NewManager builds a Manager for one backend. redirectURL is this
// gateway's own /oauth/callback endpoint (§6's admin surface), not a
// separate local listener. cipher may be nil, in which case the token
// store is written in cleartext with 0600 permissions.
func NewManager(backendName, clientID, issuer, redirectURL string, cipher *crypto.AESGCM) *Manager {
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   issuer + "/oauth/authorize",
			TokenURL:  issuer + "/v1/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes:      []string{"org:create_api_key", "user:profile", "user:inference"},
		RedirectURL: redirectURL,
	}
	return &Manager{
		cfg:    cfg,
		cipher: cipher,
		path:   tokenStorePath(backendName),
	}
}

func tokenStorePath(backendName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".inferswitch", "oauth-"+backendName+".json")
}

// AuthURL starts a new authorization flow and returns the URL the
// operator should open in a browser. Each call replaces any pending
// (unfinished) flow's state and verifier.
func (m *Manager) AuthURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.verifier = oauth2.GenerateVerifier()
	m.state = randomState()
	return m.cfg.AuthCodeURL(m.state, oauth2.S256ChallengeOption(m.verifier))
}

func randomState() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// HandleCallback completes the flow for an authorization code, validating
// state against the value AuthURL minted, and persists the resulting
// token pair.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	m.mu.Lock()
	verifier := m.verifier
	expected := m.state
	m.mu.Unlock()

	if expected == "" || state != expected {
		return fmt.Errorf("oauth: state mismatch")
	}

	tok, err := m.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("oauth: code exchange: %w", err)
	}

	m.mu.Lock()
	m.tokens = &storedTokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	m.state = ""
	m.verifier = ""
	err = m.persistLocked()
	m.mu.Unlock()
	return err
}

// Token implements backend.TokenProvider: it returns a currently-valid
// access token, refreshing synchronously if the cached one is stale or
// missing (§4.2: "the collaborator is responsible for refresh").
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens == nil {
		if err := m.loadLocked(); err != nil {
			return "", fmt.Errorf("oauth: not authenticated: %w", err)
		}
	}

	if m.tokens.AccessToken != "" && time.Until(m.tokens.Expiry) > 30*time.Second {
		return m.tokens.AccessToken, nil
	}
	if m.tokens.RefreshToken == "" {
		return "", fmt.Errorf("oauth: access token expired and no refresh token stored")
	}

	src := m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: m.tokens.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("oauth: refresh failed: %w", err)
	}

	m.tokens = &storedTokens{AccessToken: fresh.AccessToken, RefreshToken: fresh.RefreshToken, Expiry: fresh.Expiry}
	if m.tokens.RefreshToken == "" {
		m.tokens.RefreshToken = fresh.RefreshToken
	}
	if err := m.persistLocked(); err != nil {
		return "", err
	}
	return m.tokens.AccessToken, nil
}

// Status reports whether the manager currently holds usable tokens,
// for the admin status endpoint.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		if err := m.loadLocked(); err != nil {
			return Status{}
		}
	}
	return Status{Authenticated: m.tokens.AccessToken != "" || m.tokens.RefreshToken != "", ExpiresAt: m.tokens.Expiry}
}

// Logout discards in-memory and persisted tokens.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = nil
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *Manager) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(m.tokens)
	if err != nil {
		return err
	}
	if m.cipher != nil {
		data, err = m.cipher.Encrypt(data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(m.path, data, 0o600)
}

func (m *Manager) loadLocked() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	if m.cipher != nil {
		data, err = m.cipher.Decrypt(data)
		if err != nil {
			return err
		}
	}
	var t storedTokens
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	m.tokens = &t
	return nil
}
