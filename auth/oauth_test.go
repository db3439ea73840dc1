package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// fakeProvider stands in for the provider's token and userinfo endpoints.
type fakeProvider struct {
	srv      *httptest.Server
	userinfo map[string]any
	tokenErr bool
}

func newFakeProvider(t *testing.T, userinfo map[string]any) *fakeProvider {
	t.Helper()
	p := &fakeProvider{userinfo: userinfo}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if p.tokenErr {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-123", "token_type": "bearer"})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.userinfo)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) config() OAuthProviderConfig {
	return OAuthProviderConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/oauth/github/callback",
		AuthURL:      p.srv.URL + "/authorize",
		TokenURL:     p.srv.URL + "/token",
		UserInfoURL:  p.srv.URL + "/userinfo",
	}
}

func newOAuthTestAPI(t *testing.T, p *fakeProvider, mutate ...func(*Config)) (*API, func()) {
	t.Helper()
	all := append([]func(*Config){func(c *Config) {
		c.OAuthProviders = map[string]OAuthProviderConfig{"github": p.config()}
	}}, mutate...)
	return newTestAPI(t, all...)
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in %q", raw)
	}
	return state
}

func TestOAuthInitiate(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "email": "octo@example.com"})
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	redirect, err := api.OAuthInitiate(context.Background(), "github")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !strings.HasPrefix(redirect, p.srv.URL+"/authorize?") {
		t.Fatalf("unexpected redirect %q", redirect)
	}
	u, _ := url.Parse(redirect)
	q := u.Query()
	if q.Get("client_id") != "client-id" || q.Get("response_type") != "code" {
		t.Fatalf("missing oauth params: %q", redirect)
	}
	if q.Get("state") == "" {
		t.Fatalf("expected state param")
	}

	// Two initiations never share a state
	redirect2, err := api.OAuthInitiate(context.Background(), "github")
	if err != nil {
		t.Fatalf("initiate 2: %v", err)
	}
	if stateFromURL(t, redirect) == stateFromURL(t, redirect2) {
		t.Fatalf("state reuse across initiations")
	}
}

func TestOAuthUnknownProvider(t *testing.T) {
	api, cleanup := newTestAPI(t)
	defer cleanup()

	if _, err := api.OAuthInitiate(context.Background(), "gitlab"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	if _, err := api.OAuthCallback(context.Background(), w, r, "gitlab", "code", "state"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestOAuthCallbackCreatesUserAndSession(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "name": "Octo Cat", "email": "Octo@Example.com"})
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	redirect, err := api.OAuthInitiate(context.Background(), "github")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	state := stateFromURL(t, redirect)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	u, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", state)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if u.Email != "octo@example.com" {
		t.Fatalf("email: got %q", u.Email)
	}
	if u.Name != "Octo Cat" {
		t.Fatalf("name: got %q", u.Name)
	}

	// Session cookie was set and resolves
	var sc *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == api.cfg.SessionName && c.Value != "" {
			sc = c
		}
	}
	if sc == nil {
		t.Fatalf("expected session cookie")
	}
	w2 := httptest.NewRecorder()
	r2 := newReqWithCookie(http.MethodGet, "/me", sc)
	got, ok, err := api.CurrentUser(w2, r2)
	if err != nil || !ok || got.ID != u.ID {
		t.Fatalf("CurrentUser after oauth: ok=%v err=%v", ok, err)
	}

	// Second login with the same provider identity reuses the user
	redirect2, _ := api.OAuthInitiate(context.Background(), "github")
	w3 := httptest.NewRecorder()
	again, err := api.OAuthCallback(context.Background(), w3, r, "github", "good-code", stateFromURL(t, redirect2))
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("expected same user, got %q and %q", u.ID, again.ID)
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "email": "octo@example.com"})
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	redirect, _ := api.OAuthInitiate(context.Background(), "github")
	state := stateFromURL(t, redirect)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	if _, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", state); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	// Replay fails
	if _, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", state); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch on replay, got %v", err)
	}
}

func TestOAuthStateMismatch(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "email": "octo@example.com"})
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	if _, err := api.OAuthInitiate(context.Background(), "github"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	if _, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", "forged-state"); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestOAuthStateExpires(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "email": "octo@example.com"})
	api, cleanup := newOAuthTestAPI(t, p, func(c *Config) {
		c.StateTTL = time.Minute
		c.Now = func() time.Time { return base }
	})
	defer cleanup()

	redirect, _ := api.OAuthInitiate(context.Background(), "github")
	state := stateFromURL(t, redirect)

	api.cfg.Now = func() time.Time { return base.Add(2 * time.Minute) }

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	if _, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", state); !errors.Is(err, ErrExpiredState) {
		t.Fatalf("expected ErrExpiredState, got %v", err)
	}
}

func TestOAuthLinksExistingAccountByEmail(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "email": "linked@example.com"})
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	existing := mustRegister(t, api, "linked@example.com", "password123")

	redirect, _ := api.OAuthInitiate(context.Background(), "github")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	u, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", stateFromURL(t, redirect))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if u.ID != existing.ID {
		t.Fatalf("expected link to existing user %q, got %q", existing.ID, u.ID)
	}

	// Password login still works after linking
	mustLogin(t, api, "linked@example.com", "password123")
}

func TestOAuthProviderFailure(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo", "email": "octo@example.com"})
	p.tokenErr = true
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	redirect, _ := api.OAuthInitiate(context.Background(), "github")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	if _, err := api.OAuthCallback(context.Background(), w, r, "github", "bad-code", stateFromURL(t, redirect)); !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
}

func TestOAuthProviderWithoutEmail(t *testing.T) {
	p := newFakeProvider(t, map[string]any{"id": 42, "login": "octo"})
	api, cleanup := newOAuthTestAPI(t, p)
	defer cleanup()

	redirect, _ := api.OAuthInitiate(context.Background(), "github")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/cb", nil)
	if _, err := api.OAuthCallback(context.Background(), w, r, "github", "good-code", stateFromURL(t, redirect)); !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected ErrProviderError for missing email, got %v", err)
	}
}
