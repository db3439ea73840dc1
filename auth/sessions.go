package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type session struct {
	id        string
	token     string
	userID    string
	expiresAt int64
	lastUsed  int64
}

func (a *API) createSessionAndSetCookie(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) error {
	token, err := newSessionToken()
	if err != nil {
		return err
	}
	now := a.now()
	expiresAt := now.Add(a.cfg.SessionTTL).Unix()

	var ip, ua string
	if r != nil {
		ip = clientIP(r)
		ua = r.UserAgent()
	}

	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token, user_id, expires_at, last_used_at, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), token, userID, expiresAt, now.Unix(), ip, ua, now.Unix()); err != nil {
		return err
	}

	a.setCookie(w, token, time.Unix(expiresAt, 0))
	return nil
}

// findSessionByToken re-checks expiry itself: a stale row not yet swept must
// behave exactly like an absent one.
func (a *API) findSessionByToken(ctx context.Context, token string) (session, bool, error) {
	var s session
	err := a.db.QueryRowContext(ctx, `
		SELECT id, token, user_id, expires_at, last_used_at
		FROM sessions
		WHERE token = ?
	`, token).Scan(&s.id, &s.token, &s.userID, &s.expiresAt, &s.lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session{}, false, nil
		}
		return session{}, false, err
	}
	if a.now().Unix() >= s.expiresAt {
		return session{}, false, nil
	}
	return s, true, nil
}

func (a *API) sessionUserInternal(ctx context.Context, token string) (User, bool, error) {
	if token == "" {
		return User{}, false, nil
	}
	s, ok, err := a.findSessionByToken(ctx, token)
	if err != nil {
		return User{}, false, internalErr("query session", err)
	}
	if !ok {
		return User{}, false, nil
	}
	u, err := a.findUserByID(ctx, s.userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, internalErr("query user", err)
	}
	if !u.Active {
		return User{}, false, nil
	}
	a.touchSession(ctx, token, a.now().Unix())
	return u, true, nil
}

func (a *API) logoutInternal(w http.ResponseWriter, r *http.Request) error {
	token, err := a.readSessionCookie(r)
	if err != nil || token == "" {
		a.clearCookie(w)
		return nil
	}
	// Deleting a token with no matching row is not an error.
	if _, err := a.db.ExecContext(r.Context(), `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		a.clearCookie(w)
		return internalErr("delete session", err)
	}
	a.clearCookie(w)
	return nil
}

func (a *API) currentUserInternal(w http.ResponseWriter, r *http.Request) (User, bool, error) {
	ctx := r.Context()
	token, err := a.readSessionCookie(r)
	if err != nil || token == "" {
		return User{}, false, nil
	}

	var (
		u         User
		active    int
		createdAt int64
		expiresAt int64
	)
	err = a.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.role, u.active, u.created_at, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ?
	`, token).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &active, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.clearCookie(w)
			return User{}, false, nil
		}
		return User{}, false, internalErr("query session", err)
	}
	u.Active = active != 0
	u.CreatedAt = time.Unix(createdAt, 0)

	now := a.now().Unix()
	if now >= expiresAt || !u.Active {
		// Expired rows are left for the sweep; a deactivated user's sessions
		// are removed eagerly.
		if !u.Active {
			_, _ = a.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		}
		a.clearCookie(w)
		return User{}, false, nil
	}

	a.touchSession(ctx, token, now)

	// Refresh if within last 20% of TTL.
	ttl := int64(a.cfg.SessionTTL.Seconds())
	if ttl > 0 {
		remaining := expiresAt - now
		if remaining*5 <= ttl {
			newExp := now + ttl
			if _, err := a.db.ExecContext(ctx, `UPDATE sessions SET expires_at = ? WHERE token = ?`, newExp, token); err == nil {
				a.setCookie(w, token, time.Unix(newExp, 0))
			}
		}
	}

	return u, true, nil
}

// touchSession records last_used_at. Best-effort: failures are logged, the
// request proceeds.
func (a *API) touchSession(ctx context.Context, token string, now int64) {
	if _, err := a.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = ? WHERE token = ?`, now, token); err != nil {
		a.logf("touch session: %v", err)
	}
}

func (a *API) revokeAllSessionsInternal(ctx context.Context, userID string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return internalErr("revoke sessions", err)
	}
	return nil
}

// pruneExpiredInternal sweeps expired sessions and OAuth states. Idempotent
// and safe to run concurrently; the count is informational.
func (a *API) pruneExpiredInternal(ctx context.Context) (int64, error) {
	now := a.now().Unix()
	var total int64
	res, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, internalErr("prune sessions", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = a.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, now)
	if err != nil {
		return total, internalErr("prune oauth states", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	a.cfg.Metrics.recordPruned(total)
	return total, nil
}

func (a *API) pruneLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.pruneExpiredInternal(context.Background()); err != nil {
				a.logf("prune expired: %v", err)
			}
			a.limiter.cleanup(a.now())
		}
	}
}

func (a *API) readSessionCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(a.cfg.SessionName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		return "", err
	}
	return c.Value, nil
}

// setCookie computes MaxAge using the package's time source to keep tests deterministic.
func (a *API) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	delta := int(expires.Sub(a.now()).Seconds())
	if delta <= 0 {
		delta = int(a.cfg.SessionTTL.Seconds())
		if delta <= 0 {
			delta = 1
		}
	}
	c := &http.Cookie{
		Name:     a.cfg.SessionName,
		Value:    token,
		Path:     "/",
		Domain:   a.cfg.CookieDomain,
		Expires:  expires,
		MaxAge:   delta,
		HttpOnly: *a.cfg.CookieHTTPOnly,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.cfg.CookieSameSite,
	}
	http.SetCookie(w, c)
}

// clearCookie uses MaxAge=0 plus an Expires in the past to ensure deletion
// across clients, whether or not the cookie was present.
func (a *API) clearCookie(w http.ResponseWriter) {
	c := &http.Cookie{
		Name:     a.cfg.SessionName,
		Value:    "",
		Path:     "/",
		Domain:   a.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   0,
		HttpOnly: *a.cfg.CookieHTTPOnly,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.cfg.CookieSameSite,
	}
	http.SetCookie(w, c)
}

// newSessionToken returns 256 bits of entropy, base64url without padding.
func newSessionToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// rollbackIfNeeded rolls back tx if it's still active.
func rollbackIfNeeded(tx *sql.Tx) {
	_ = tx.Rollback()
}
