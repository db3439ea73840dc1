package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OAuthProviderConfig holds a provider's credentials. Endpoint URLs and
// scopes default per provider id and can be overridden for tests.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	Scopes      []string
}

func applyProviderDefaults(name string, p OAuthProviderConfig) OAuthProviderConfig {
	switch name {
	case "github":
		if p.AuthURL == "" {
			p.AuthURL = "https://github.com/login/oauth/authorize"
		}
		if p.TokenURL == "" {
			p.TokenURL = "https://github.com/login/oauth/access_token"
		}
		if p.UserInfoURL == "" {
			p.UserInfoURL = "https://api.github.com/user"
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"read:user", "user:email"}
		}
	case "google":
		if p.AuthURL == "" {
			p.AuthURL = "https://accounts.google.com/o/oauth2/auth"
		}
		if p.TokenURL == "" {
			p.TokenURL = "https://oauth2.googleapis.com/token"
		}
		if p.UserInfoURL == "" {
			p.UserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"openid", "email", "profile"}
		}
	}
	return p
}

// oauthUserInfo is the provider-agnostic profile extracted after a code
// exchange.
type oauthUserInfo struct {
	providerUserID string
	email          string
	name           string
}

func (a *API) oauthInitiateInternal(ctx context.Context, provider string) (string, error) {
	p, ok := a.cfg.OAuthProviders[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	state := uuid.New().String()
	now := a.now()
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO oauth_states (id, state, provider, user_id, expires_at, created_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`, uuid.New().String(), state, provider, now.Add(a.cfg.StateTTL).Unix(), now.Unix()); err != nil {
		return "", internalErr("insert oauth state", err)
	}

	params := url.Values{
		"client_id":     {p.ClientID},
		"redirect_uri":  {p.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(p.Scopes, " ")},
		"state":         {state},
	}
	return p.AuthURL + "?" + params.Encode(), nil
}

func (a *API) oauthCallbackInternal(ctx context.Context, w http.ResponseWriter, r *http.Request, provider, code, state string) (User, error) {
	p, ok := a.cfg.OAuthProviders[provider]
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	if err := a.consumeState(ctx, provider, state); err != nil {
		return User{}, err
	}

	info, err := a.exchangeCode(ctx, provider, p, code)
	if err != nil {
		return User{}, err
	}

	u, err := a.findOrCreateOAuthUser(ctx, provider, info)
	if err != nil {
		return User{}, err
	}
	if !u.Active {
		return User{}, fmt.Errorf("%w: account deactivated", ErrForbidden)
	}

	if err := a.createSessionAndSetCookie(ctx, w, r, u.ID); err != nil {
		return User{}, internalErr("create session", err)
	}
	a.touchLoginStats(ctx, u.ID)
	a.cfg.Metrics.recordOAuthLogin(provider)
	return u, nil
}

// consumeState enforces single use: the row is deleted on match, and a
// concurrent second callback loses on RowsAffected. Expiry is checked before
// deletion so an expired state reports ErrExpiredState, not a mismatch.
func (a *API) consumeState(ctx context.Context, provider, state string) error {
	var (
		rowProvider string
		expiresAt   int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT provider, expires_at FROM oauth_states WHERE state = ?
	`, state).Scan(&rowProvider, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateMismatch
		}
		return internalErr("query oauth state", err)
	}
	if rowProvider != provider {
		return ErrStateMismatch
	}
	if a.now().Unix() >= expiresAt {
		_, _ = a.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state)
		return ErrExpiredState
	}
	res, err := a.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state)
	if err != nil {
		return internalErr("delete oauth state", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrStateMismatch
	}
	return nil
}

// exchangeCode trades the authorization code for an access token, then
// fetches the user profile. Any provider-side failure collapses into
// ErrProviderError; the details stay in the wrapped chain for logs.
func (a *API) exchangeCode(ctx context.Context, provider string, p OAuthProviderConfig, code string) (oauthUserInfo, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
		"redirect_uri":  {p.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: build token request: %w", ErrProviderError, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: token request: %w", ErrProviderError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: read token response: %w", ErrProviderError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return oauthUserInfo{}, fmt.Errorf("%w: token exchange status %d", ErrProviderError, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: parse token response: %w", ErrProviderError, err)
	}
	if tokenResp.AccessToken == "" {
		return oauthUserInfo{}, fmt.Errorf("%w: empty access token", ErrProviderError)
	}

	return a.fetchUserInfo(ctx, provider, p, tokenResp.AccessToken)
}

func (a *API) fetchUserInfo(ctx context.Context, provider string, p OAuthProviderConfig, accessToken string) (oauthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: build userinfo request: %w", ErrProviderError, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: userinfo request: %w", ErrProviderError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("%w: read userinfo response: %w", ErrProviderError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return oauthUserInfo{}, fmt.Errorf("%w: userinfo status %d", ErrProviderError, resp.StatusCode)
	}

	info, err := parseUserInfo(provider, body)
	if err != nil {
		return oauthUserInfo{}, err
	}
	return info, nil
}

func parseUserInfo(provider string, body []byte) (oauthUserInfo, error) {
	switch provider {
	case "github":
		var gh struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(body, &gh); err != nil {
			return oauthUserInfo{}, fmt.Errorf("%w: parse userinfo: %w", ErrProviderError, err)
		}
		if gh.ID == 0 {
			return oauthUserInfo{}, fmt.Errorf("%w: missing user id", ErrProviderError)
		}
		name := gh.Name
		if name == "" {
			name = gh.Login
		}
		return oauthUserInfo{providerUserID: strconv.FormatInt(gh.ID, 10), email: normalizeEmail(gh.Email), name: name}, nil
	default:
		// OpenID Connect userinfo shape (google and compatible providers).
		var oidc struct {
			Sub   string `json:"sub"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal(body, &oidc); err != nil {
			return oauthUserInfo{}, fmt.Errorf("%w: parse userinfo: %w", ErrProviderError, err)
		}
		if oidc.Sub == "" {
			return oauthUserInfo{}, fmt.Errorf("%w: missing sub", ErrProviderError)
		}
		return oauthUserInfo{providerUserID: oidc.Sub, email: normalizeEmail(oidc.Email), name: oidc.Name}, nil
	}
}

// findOrCreateOAuthUser resolves the provider identity to a local user:
// an existing identity logs straight in; a known email gets the identity
// linked; otherwise a new OAuth-only user (no password hash) is created.
func (a *API) findOrCreateOAuthUser(ctx context.Context, provider string, info oauthUserInfo) (User, error) {
	var userID string
	err := a.db.QueryRowContext(ctx, `
		SELECT user_id FROM oauth_identities WHERE provider = ? AND provider_user_id = ?
	`, provider, info.providerUserID).Scan(&userID)
	switch {
	case err == nil:
		u, err := a.findUserByID(ctx, userID)
		if err != nil {
			return User{}, internalErr("query user", err)
		}
		return u, nil
	case !errors.Is(err, sql.ErrNoRows):
		return User{}, internalErr("query oauth identity", err)
	}

	if info.email == "" {
		return User{}, fmt.Errorf("%w: provider returned no email", ErrProviderError)
	}

	now := a.now().Unix()
	u, _, err := a.findUserByEmail(ctx, info.email)
	switch {
	case err == nil:
		// Link the identity to the existing account.
		if _, err := a.db.ExecContext(ctx, `
			INSERT INTO oauth_identities (id, user_id, provider, provider_user_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.New().String(), u.ID, provider, info.providerUserID, now); err != nil {
			return User{}, internalErr("link oauth identity", err)
		}
		return u, nil
	case !errors.Is(err, sql.ErrNoRows):
		return User{}, internalErr("query user", err)
	}

	id := uuid.New().String()
	role := a.roleForEmail(info.email)
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, internalErr("begin", err)
	}
	defer rollbackIfNeeded(tx)

	if _, err := tx.ExecContext(ctx, a.q(`
		INSERT INTO users (id, email, password_hash, name, role, active, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?, ?)
	`), id, info.email, info.name, role, 1, now, now); err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent registration for this email.
			return User{}, ErrEmailTaken
		}
		return User{}, internalErr("insert user", err)
	}
	if _, err := tx.ExecContext(ctx, a.q(`
		INSERT INTO oauth_identities (id, user_id, provider, provider_user_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), uuid.New().String(), id, provider, info.providerUserID, now); err != nil {
		return User{}, internalErr("insert oauth identity", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, internalErr("commit", err)
	}

	return User{ID: id, Email: info.email, Name: info.name, Role: role, Active: true, CreatedAt: time.Unix(now, 0)}, nil
}
