// Package auth is a standalone authentication core for Go web apps:
//   - Cookie-based, server-side sessions stored in SQLite or PostgreSQL
//   - Password hashing via bcrypt (configurable cost at setup time)
//   - Signed bearer tokens (HS256 JWT) as a stateless alternative surface
//   - OAuth login (GitHub, Google) with single-use, DB-backed state values
//   - Minimal, framework-agnostic API and HTTP helpers
//
// This file is the public, self-documenting API surface. The internal
// implementation is split across other files in this package.
//
// Quick start:
//
//	api, err := auth.New(auth.Config{
//		DSN:        "app.db",
//		Secret:     os.Getenv("AUTH_SECRET"), // >= 32 bytes, fatal if short
//		AdminEmail: "ops@example.com",        // registrations with this email get role admin
//		SessionTTL: 30 * 24 * time.Hour,
//		OAuthProviders: map[string]auth.OAuthProviderConfig{
//			"github": {ClientID: id, ClientSecret: secret, RedirectURL: cb},
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer api.Close()
//
//	r := chi.NewRouter()
//	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
//		_, err := api.Login(w, r, r.FormValue("email"), r.FormValue("password"))
//		if err != nil {
//			// Uniform message regardless of cause; no account enumeration.
//			http.Error(w, "invalid email or password", http.StatusUnauthorized)
//			return
//		}
//	})
//	r.With(api.Middleware, api.RequireAuth).Get("/me", meHandler)
//	r.With(api.Middleware, api.RequireAdmin).Get("/admin", adminHandler)
//
// Security notes:
//   - Set CookieSecure=true in production (HTTPS).
//   - Session tokens are random 32-byte values, stored server-side; the
//     session row is authoritative, the cookie only carries the opaque token.
//   - Signed tokens (IssueToken/VerifyToken) are verified without a DB hit
//     and cannot be revoked before expiry; keep their TTL short.
//   - OAuth state values are single-use rows with a 10 minute default expiry.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Roles understood by the package. Any email matching Config.AdminEmail at
// registration time is created as an admin; everyone else is a user.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Config controls the behavior of the auth package.
// Secret is required; everything else has a default applied in New.
type Config struct {
	// Driver selects the storage backend: "sqlite3" (default) or "postgres".
	Driver string

	// DSN is the SQLite filename or PostgreSQL connection string.
	DSN string

	// Secret signs bearer tokens. Minimum 32 bytes; New fails otherwise.
	Secret string

	// AdminEmail promotes a matching registration (case-insensitive) to the
	// admin role. Empty disables the rule.
	AdminEmail string

	// SessionName is the cookie name for the session token. Default: "session".
	SessionName string

	// SessionTTL controls session lifetime. Default: 30 days.
	SessionTTL time.Duration

	// StateTTL controls OAuth state lifetime. Default: 10 minutes.
	StateTTL time.Duration

	// TokenTTL is the default bearer token lifetime. Default: 24h.
	TokenTTL time.Duration

	// TokenIssuer is the iss claim on bearer tokens. Default: "authcore".
	TokenIssuer string

	// CookieDomain sets the cookie domain (empty => host-only).
	CookieDomain string

	// CookieSecure should be true in production (HTTPS). Default: false.
	CookieSecure bool

	// CookieHTTPOnly controls HttpOnly on the cookie.
	// Tri-state: nil => default true; &true or &false to force.
	CookieHTTPOnly *bool

	// CookieSameSite controls the SameSite attribute. Default: http.SameSiteLaxMode.
	CookieSameSite http.SameSite

	// BcryptCost controls password hashing difficulty (4..31). Typical: 10–14.
	// Default: bcrypt.DefaultCost.
	BcryptCost int

	// Password policy. Default MinPasswordLength=8, RequireStrongPasswords=false.
	MinPasswordLength      int
	RequireStrongPasswords bool

	// LoginRate throttles login attempts per normalized email address.
	// Zero disables throttling. LoginBurst defaults to 10.
	LoginRate  rate.Limit
	LoginBurst int

	// OAuthProviders maps a provider id ("github", "google") to its
	// credentials. Endpoint URLs default per provider and are overridable
	// for tests.
	OAuthProviders map[string]OAuthProviderConfig

	// Metrics receives operation counters when non-nil. See NewCollector.
	Metrics *Collector

	// Now allows overriding the time source (useful in tests). Default: time.Now.
	Now func() time.Time

	// PruneInterval controls the background sweep of expired sessions and
	// OAuth states. Default: 1h.
	PruneInterval time.Duration

	// Connection pool tuning. Defaults: 1/1 for SQLite, 10/5 for PostgreSQL.
	MaxOpenConns int
	MaxIdleConns int

	// Logf is an optional logger hook (printf-style). If nil, logging is disabled.
	Logf func(format string, args ...any)
}

// API is the main entry point for authentication operations.
// It is safe to share a single instance across handlers.
type API struct {
	db       dbHandle
	cfg      Config
	limiter  *loginLimiter
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// User is the identity record returned by the API (no password fields).
type User struct {
	ID        string
	Email     string
	Name      string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// New validates the configuration, opens the database, runs migrations, and
// starts the background prune loop. A missing or short Secret fails here so
// that a misconfigured process never starts serving.
func New(cfg Config) (*API, error) {
	return newAPI(cfg)
}

// Close releases the DB connection and stops background jobs.
func (a *API) Close() error {
	return a.closeInternal()
}

// Register creates a new user with a bcrypt-hashed password, opens a session,
// and writes the session cookie to w.
//   - Email is normalized to lower-case and trimmed; uniqueness is
//     case-insensitive. A duplicate fails with ErrEmailTaken.
//   - Password must meet the configured policy or the call fails with
//     ErrWeakPassword.
//   - Role is admin when the email matches Config.AdminEmail, user otherwise.
func (a *API) Register(ctx context.Context, w http.ResponseWriter, r *http.Request, email, password, name string) (User, error) {
	return a.registerInternal(ctx, w, r, email, password, name)
}

// Login verifies credentials, creates a server-side session, and sets the
// cookie. Unknown email, wrong password, OAuth-only accounts, and deactivated
// accounts all fail uniformly with ErrInvalidCredentials.
func (a *API) Login(w http.ResponseWriter, r *http.Request, email, password string) (User, error) {
	return a.loginInternal(w, r, email, password)
}

// Logout removes the current session (if any) and clears the cookie.
// Idempotent: calling it without a session cookie is not an error.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) error {
	return a.logoutInternal(w, r)
}

// CurrentUser resolves the session from the request cookie and returns:
//   - User: the associated user
//   - ok: whether a valid, unexpired session was found
//   - err: unexpected errors only (wrapped ErrInternal); never the taxonomy
func (a *API) CurrentUser(w http.ResponseWriter, r *http.Request) (User, bool, error) {
	return a.currentUserInternal(w, r)
}

// SessionUser resolves an opaque session token outside of an HTTP exchange
// (e.g., a websocket handshake that already extracted the cookie value).
// Expiry is re-checked on read; the row's last_used_at is refreshed.
func (a *API) SessionUser(ctx context.Context, token string) (User, bool, error) {
	return a.sessionUserInternal(ctx, token)
}

// RequireUser returns the user injected by Middleware, or ErrUnauthenticated.
func (a *API) RequireUser(ctx context.Context) (User, error) {
	return a.requireUserInternal(ctx)
}

// RequireAdminUser is RequireUser plus a role check; ErrForbidden when the
// caller is authenticated but not an admin.
func (a *API) RequireAdminUser(ctx context.Context) (User, error) {
	return a.requireAdminUserInternal(ctx)
}

// Middleware resolves the current user (if any) and injects it into the
// request context. It also refreshes sessions close to expiry.
func (a *API) Middleware(next http.Handler) http.Handler {
	return a.middlewareInternal(next)
}

// RequireAuth ensures a valid user is present in context (after Middleware).
// If not authenticated, it returns 401 and stops the chain.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return a.requireAuthInternal(next)
}

// RequireAdmin is RequireAuth plus a role check; 403 for non-admins.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return a.requireAdminInternal(next)
}

// RequireToken authenticates via an "Authorization: Bearer" signed token
// instead of the session cookie and injects the claimed user into context.
// Verification is purely cryptographic; no DB lookup is performed.
func (a *API) RequireToken(next http.Handler) http.Handler {
	return a.requireTokenInternal(next)
}

// FromContext retrieves the current user injected by Middleware or RequireToken.
func FromContext(ctx context.Context) (User, bool) {
	return fromContext(ctx)
}

// IssueToken signs a compact bearer token for the user. A non-positive ttl
// uses Config.TokenTTL.
func (a *API) IssueToken(u User, ttl time.Duration) (string, error) {
	return a.issueTokenInternal(u, ttl)
}

// VerifyToken checks signature and expiry and returns the embedded claims.
// Fails with ErrExpiredToken, ErrMalformedToken, or ErrInvalidToken.
func (a *API) VerifyToken(token string) (Claims, error) {
	return a.verifyTokenInternal(token)
}

// OAuthInitiate creates a single-use state value and returns the provider
// authorization URL to redirect the user to. Fails with ErrUnknownProvider
// if the provider id is not configured.
func (a *API) OAuthInitiate(ctx context.Context, provider string) (string, error) {
	return a.oauthInitiateInternal(ctx, provider)
}

// OAuthCallback consumes the state value (single-use), exchanges the code
// with the provider, finds or creates the local user, and opens a session.
// Fails with ErrStateMismatch, ErrExpiredState, or ErrProviderError.
func (a *API) OAuthCallback(ctx context.Context, w http.ResponseWriter, r *http.Request, provider, code, state string) (User, error) {
	return a.oauthCallbackInternal(ctx, w, r, provider, code, state)
}

// PruneExpired deletes expired sessions and OAuth states immediately and
// returns the number of rows removed. Safe to run concurrently with normal
// lookups; expired rows are already treated as absent before the sweep.
func (a *API) PruneExpired(ctx context.Context) (int64, error) {
	return a.pruneExpiredInternal(ctx)
}

// RevokeAllSessions deletes all sessions for the given user (e.g., after a
// password change).
func (a *API) RevokeAllSessions(ctx context.Context, userID string) error {
	return a.revokeAllSessionsInternal(ctx, userID)
}

// ChangePassword updates the user's password hash and revokes all their sessions.
func (a *API) ChangePassword(ctx context.Context, userID, newPassword string) error {
	return a.changePasswordInternal(ctx, userID, newPassword)
}

// DeactivateUser soft-disables an account. Existing sessions are revoked and
// future logins fail with ErrInvalidCredentials.
func (a *API) DeactivateUser(ctx context.Context, userID string) error {
	return a.deactivateUserInternal(ctx, userID)
}

// SetBcryptCost adjusts the hashing cost for subsequently stored passwords.
func (a *API) SetBcryptCost(cost int) error {
	if err := validateBcryptCost(cost); err != nil {
		return err
	}
	a.cfg.BcryptCost = cost
	return nil
}
