package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSessionExpiry(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	api, cleanup := newTestAPI(t, func(c *Config) {
		c.SessionTTL = time.Hour
		c.Now = func() time.Time { return base }
	})
	defer cleanup()

	mustRegister(t, api, "u@example.com", "password123")
	c := mustLogin(t, api, "u@example.com", "password123")

	// Advance time beyond expiry
	api.cfg.Now = func() time.Time { return base.Add(2 * time.Hour) }

	w := httptest.NewRecorder()
	r := newReqWithCookie(http.MethodGet, "/me", c)
	_, ok, err := api.CurrentUser(w, r)
	if err != nil {
		t.Fatalf("CurrentUser err: %v", err)
	}
	if ok {
		t.Fatalf("expected session expired")
	}
	// Verify a clearing Set-Cookie was issued
	setCookie := strings.Join(w.Result().Header.Values("Set-Cookie"), ";")
	if !(strings.Contains(setCookie, "Max-Age=0") || strings.Contains(setCookie, "Expires=")) {
		t.Fatalf("expected cookie clearing header, got: %q", setCookie)
	}
}

func TestSessionRefresh(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	api, cleanup := newTestAPI(t, func(c *Config) {
		c.SessionTTL = 100 * time.Second
		c.Now = func() time.Time { return base }
	})
	defer cleanup()

	mustRegister(t, api, "u2@example.com", "password123")
	c := mustLogin(t, api, "u2@example.com", "password123")

	// Move time near expiry (remaining <= 20% => refresh)
	api.cfg.Now = func() time.Time { return base.Add(81 * time.Second) } // remaining=19s, 19*5 <= 100

	w := httptest.NewRecorder()
	r := newReqWithCookie(http.MethodGet, "/me", c)
	u, ok, err := api.CurrentUser(w, r)
	if err != nil || !ok || u.Email != "u2@example.com" {
		t.Fatalf("CurrentUser: ok=%v err=%v user=%v", ok, err, u)
	}
	// Should set a refreshed cookie (new Expires later than original)
	found := false
	for _, sc := range w.Result().Cookies() {
		if sc.Name == api.cfg.SessionName {
			found = true
			want := base.Add(181 * time.Second)
			if !sc.Expires.Equal(want) {
				t.Fatalf("expected refreshed expire %v, got %v", want, sc.Expires)
			}
		}
	}
	if !found {
		t.Fatalf("expected refreshed Set-Cookie")
	}
}

func TestMultipleSessionsAndLogoutSingle(t *testing.T) {
	api, cleanup := newTestAPI(t)
	defer cleanup()

	mustRegister(t, api, "m@example.com", "password123")
	c1 := mustLogin(t, api, "m@example.com", "password123")
	c2 := mustLogin(t, api, "m@example.com", "password123")

	// Logout using cookie 1
	w := httptest.NewRecorder()
	r := newReqWithCookie(http.MethodPost, "/logout", c1)
	if err := api.Logout(w, r); err != nil {
		t.Fatalf("logout: %v", err)
	}

	// c1 should no longer work
	w1 := httptest.NewRecorder()
	r1 := newReqWithCookie(http.MethodGet, "/me", c1)
	if _, ok, _ := api.CurrentUser(w1, r1); ok {
		t.Fatalf("c1 should be invalid after logout")
	}

	// c2 should still work
	w2 := httptest.NewRecorder()
	r2 := newReqWithCookie(http.MethodGet, "/me", c2)
	if _, ok, _ := api.CurrentUser(w2, r2); !ok {
		t.Fatalf("c2 should still be valid")
	}
}

func TestPruneExpired(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	api, cleanup := newTestAPI(t, func(c *Config) {
		c.SessionTTL = time.Hour
		c.Now = func() time.Time { return base }
	})
	defer cleanup()

	mustRegister(t, api, "p@example.com", "password123")
	c := mustLogin(t, api, "p@example.com", "password123")
	mustLogin(t, api, "p@example.com", "password123")

	// Nothing expired yet
	n, err := api.PruneExpired(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 pruned, got %d", n)
	}

	// Registration opened one session, the two logins two more.
	api.cfg.Now = func() time.Time { return base.Add(2 * time.Hour) }
	n, err = api.PruneExpired(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned, got %d", n)
	}

	// Sweep is idempotent
	n, err = api.PruneExpired(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}

	// The expired cookie resolves to nothing even before/after the sweep
	w := httptest.NewRecorder()
	r := newReqWithCookie(http.MethodGet, "/me", c)
	if _, ok, _ := api.CurrentUser(w, r); ok {
		t.Fatalf("expired session should be treated as absent")
	}
}

func TestSessionUserByToken(t *testing.T) {
	api, cleanup := newTestAPI(t)
	defer cleanup()

	mustRegister(t, api, "tok@example.com", "password123")
	c := mustLogin(t, api, "tok@example.com", "password123")

	u, ok, err := api.SessionUser(context.Background(), c.Value)
	if err != nil || !ok {
		t.Fatalf("SessionUser: ok=%v err=%v", ok, err)
	}
	if u.Email != "tok@example.com" {
		t.Fatalf("unexpected user %q", u.Email)
	}

	if _, ok, _ := api.SessionUser(context.Background(), "no-such-token"); ok {
		t.Fatalf("unknown token should not resolve")
	}
	if _, ok, _ := api.SessionUser(context.Background(), ""); ok {
		t.Fatalf("empty token should not resolve")
	}
}

func TestSessionRecordsClientMetadata(t *testing.T) {
	api, cleanup := newTestAPI(t)
	defer cleanup()

	mustRegister(t, api, "meta@example.com", "password123")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.Header.Set("User-Agent", "test-agent/1.0")
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if _, err := api.Login(w, r, "meta@example.com", "password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	var token string
	for _, c := range w.Result().Cookies() {
		if c.Name == api.cfg.SessionName {
			token = c.Value
		}
	}

	var ip, ua string
	if err := api.db.QueryRow(`SELECT ip, user_agent FROM sessions WHERE token = ?`, token).Scan(&ip, &ua); err != nil {
		t.Fatalf("query: %v", err)
	}
	if ip != "203.0.113.9" {
		t.Fatalf("ip: got %q", ip)
	}
	if ua != "test-agent/1.0" {
		t.Fatalf("user agent: got %q", ua)
	}
}

func TestCookieFlagsOnLoginAndClear(t *testing.T) {
	api, cleanup := newTestAPI(t, func(c *Config) {
		c.SessionTTL = 30 * time.Minute
	})
	defer cleanup()

	mustRegister(t, api, "c@example.com", "password123")
	sc := mustLogin(t, api, "c@example.com", "password123")
	if !sc.HttpOnly || sc.Secure {
		t.Fatalf("cookie flags unexpected: httpOnly=%v secure=%v", sc.HttpOnly, sc.Secure)
	}
	if sc.Expires.IsZero() || sc.MaxAge <= 0 {
		t.Fatalf("cookie expiry not set")
	}

	// Clear on logout
	w := httptest.NewRecorder()
	r := newReqWithCookie(http.MethodPost, "/logout", sc)
	if err := api.Logout(w, r); err != nil {
		t.Fatalf("logout: %v", err)
	}
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == api.cfg.SessionName {
			found = true
			// Deleted cookie should have MaxAge==0 per parser and Expires in the past
			if c.MaxAge != 0 {
				t.Fatalf("expected MaxAge=0, got %d", c.MaxAge)
			}
		}
	}
	if !found {
		t.Fatalf("expected clearing cookie")
	}
}

func TestCookieRoundTrip(t *testing.T) {
	api, cleanup := newTestAPI(t)
	defer cleanup()

	w := httptest.NewRecorder()
	api.setCookie(w, "opaque-token-value", api.now().Add(time.Hour))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	got, err := api.readSessionCookie(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "opaque-token-value" {
		t.Fatalf("round trip: got %q", got)
	}

	// Absent cookie is not an error, yields empty
	got, err = api.readSessionCookie(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || got != "" {
		t.Fatalf("absent cookie: got %q err=%v", got, err)
	}
}
