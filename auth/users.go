package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (a *API) registerInternal(ctx context.Context, w http.ResponseWriter, r *http.Request, email, password, name string) (User, error) {
	email = normalizeEmail(email)
	if !validEmailBasic(email) {
		return User{}, fmt.Errorf("invalid email")
	}
	if err := validatePasswordPolicy(password, a.cfg.MinPasswordLength, a.cfg.RequireStrongPasswords); err != nil {
		return User{}, err
	}

	hash, err := a.hashPassword(password)
	if err != nil {
		return User{}, internalErr("hash password", err)
	}

	now := a.now().Unix()
	role := a.roleForEmail(email)
	id := uuid.New().String()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, internalErr("begin", err)
	}
	defer rollbackIfNeeded(tx)

	var exists int
	if err := tx.QueryRowContext(ctx, a.q(`SELECT 1 FROM users WHERE email = ?`), email).Scan(&exists); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return User{}, internalErr("check email", err)
	}
	if exists == 1 {
		return User{}, ErrEmailTaken
	}

	_, err = tx.ExecContext(ctx, a.q(`
		INSERT INTO users (id, email, password_hash, name, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), id, email, hash, name, role, 1, now, now)
	if err != nil {
		// Concurrent registration with the same email loses the race on the
		// UNIQUE constraint rather than the pre-check.
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, internalErr("insert user", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, internalErr("commit", err)
	}

	user := User{ID: id, Email: email, Name: name, Role: role, Active: true, CreatedAt: time.Unix(now, 0)}
	if err := a.createSessionAndSetCookie(ctx, w, r, user.ID); err != nil {
		return User{}, internalErr("create session", err)
	}
	a.cfg.Metrics.recordRegistration()
	return user, nil
}

func (a *API) loginInternal(w http.ResponseWriter, r *http.Request, email, password string) (User, error) {
	ctx := r.Context()
	email = normalizeEmail(email)

	if !a.limiter.allow(email, a.now()) {
		return User{}, ErrTooManyAttempts
	}

	u, hash, err := a.findUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.cfg.Metrics.recordLogin(false)
			return User{}, ErrInvalidCredentials
		}
		return User{}, internalErr("query user", err)
	}

	if !verifyPassword(password, hash.String) || !u.Active {
		a.cfg.Metrics.recordLogin(false)
		return User{}, ErrInvalidCredentials
	}

	if err := a.createSessionAndSetCookie(ctx, w, r, u.ID); err != nil {
		return User{}, internalErr("create session", err)
	}
	a.touchLoginStats(ctx, u.ID)
	a.cfg.Metrics.recordLogin(true)
	return u, nil
}

// touchLoginStats bumps login_count/last_login_at. Best-effort: a failure is
// logged, never surfaced to the login caller.
func (a *API) touchLoginStats(ctx context.Context, userID string) {
	now := a.now().Unix()
	if _, err := a.db.ExecContext(ctx, `
		UPDATE users SET login_count = login_count + 1, last_login_at = ?, updated_at = ? WHERE id = ?
	`, now, now, userID); err != nil {
		a.logf("update login stats: %v", err)
	}
}

func (a *API) changePasswordInternal(ctx context.Context, userID, newPassword string) error {
	if err := validatePasswordPolicy(newPassword, a.cfg.MinPasswordLength, a.cfg.RequireStrongPasswords); err != nil {
		return err
	}
	hash, err := a.hashPassword(newPassword)
	if err != nil {
		return internalErr("hash password", err)
	}
	res, err := a.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
	`, hash, a.now().Unix(), userID)
	if err != nil {
		return internalErr("update password", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUnauthenticated
	}
	return a.revokeAllSessionsInternal(ctx, userID)
}

func (a *API) deactivateUserInternal(ctx context.Context, userID string) error {
	if _, err := a.db.ExecContext(ctx, `
		UPDATE users SET active = 0, updated_at = ? WHERE id = ?
	`, a.now().Unix(), userID); err != nil {
		return internalErr("deactivate user", err)
	}
	return a.revokeAllSessionsInternal(ctx, userID)
}

// findUserByEmail returns the user row plus the stored hash. sql.ErrNoRows
// passes through so callers can collapse it into ErrInvalidCredentials.
func (a *API) findUserByEmail(ctx context.Context, email string) (User, sql.NullString, error) {
	var (
		u         User
		hash      sql.NullString
		active    int
		createdAt int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, active, password_hash, created_at
		FROM users
		WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &active, &hash, &createdAt)
	if err != nil {
		return User{}, sql.NullString{}, err
	}
	u.Active = active != 0
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, hash, nil
}

func (a *API) findUserByID(ctx context.Context, id string) (User, error) {
	var (
		u         User
		active    int
		createdAt int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, active, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &active, &createdAt)
	if err != nil {
		return User{}, err
	}
	u.Active = active != 0
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, nil
}

func (a *API) roleForEmail(email string) string {
	if a.cfg.AdminEmail != "" && strings.EqualFold(email, a.cfg.AdminEmail) {
		return RoleAdmin
	}
	return RoleUser
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
