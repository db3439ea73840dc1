package auth

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const minSecretLen = 32

func applyDefaults(cfg *Config) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	if cfg.DSN == "" {
		cfg.DSN = "auth.db"
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "session"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = "authcore"
	}
	if cfg.CookieSameSite == 0 {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	if cfg.CookieHTTPOnly == nil {
		t := true
		cfg.CookieHTTPOnly = &t
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	// RequireStrongPasswords defaults to false; leave as-is.

	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 10
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.MaxOpenConns <= 0 {
		if cfg.Driver == "sqlite3" {
			cfg.MaxOpenConns = 1
		} else {
			cfg.MaxOpenConns = 10
		}
	}
	if cfg.MaxIdleConns <= 0 {
		if cfg.Driver == "sqlite3" {
			cfg.MaxIdleConns = 1
		} else {
			cfg.MaxIdleConns = 5
		}
	}
	for name, p := range cfg.OAuthProviders {
		cfg.OAuthProviders[name] = applyProviderDefaults(name, p)
	}
}

// validateConfig enforces the startup invariants. A failure here is the only
// fatal condition in the package: New returns the error and the process
// should refuse to start.
func validateConfig(cfg *Config) error {
	if len(cfg.Secret) < minSecretLen {
		return fmt.Errorf("auth: signing secret must be at least %d bytes, got %d", minSecretLen, len(cfg.Secret))
	}
	if cfg.Driver != "sqlite3" && cfg.Driver != "postgres" {
		return fmt.Errorf("auth: unsupported driver %q (want sqlite3 or postgres)", cfg.Driver)
	}
	return validateBcryptCost(cfg.BcryptCost)
}

func validateBcryptCost(cost int) error {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be in [%d,%d]; got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return nil
}

// ConfigFromEnv builds a Config from environment variables, applying the
// same fallbacks as applyDefaults for anything unset. AUTH_SECRET is the
// one mandatory variable; New rejects a missing or short secret.
//
//	AUTH_DB_DRIVER  sqlite3 | postgres
//	AUTH_DB_DSN     file path (sqlite3) or connection string (postgres)
//	AUTH_SECRET     signing secret, >= 32 bytes
//	AUTH_ADMIN_EMAIL
//	AUTH_SESSION_TTL / AUTH_STATE_TTL / AUTH_TOKEN_TTL  Go duration strings
//	AUTH_ENV        "production" enables the Secure cookie attribute
//	AUTH_GITHUB_CLIENT_ID / AUTH_GITHUB_CLIENT_SECRET / AUTH_GITHUB_REDIRECT_URL
//	AUTH_GOOGLE_CLIENT_ID / AUTH_GOOGLE_CLIENT_SECRET / AUTH_GOOGLE_REDIRECT_URL
func ConfigFromEnv() Config {
	cfg := Config{
		Driver:       getenv("AUTH_DB_DRIVER", "sqlite3"),
		DSN:          getenv("AUTH_DB_DSN", "auth.db"),
		Secret:       os.Getenv("AUTH_SECRET"),
		AdminEmail:   os.Getenv("AUTH_ADMIN_EMAIL"),
		SessionName:  getenv("AUTH_SESSION_NAME", "session"),
		SessionTTL:   getenvDuration("AUTH_SESSION_TTL", 30*24*time.Hour),
		StateTTL:     getenvDuration("AUTH_STATE_TTL", 10*time.Minute),
		TokenTTL:     getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		CookieSecure: os.Getenv("AUTH_ENV") == "production",
		LoginRate:    rate.Limit(getenvFloat("AUTH_LOGIN_RATE", 0)),
		LoginBurst:   getenvInt("AUTH_LOGIN_BURST", 10),
	}

	providers := map[string]OAuthProviderConfig{}
	for _, name := range []string{"github", "google"} {
		prefix := "AUTH_" + strings.ToUpper(name) + "_"
		id := os.Getenv(prefix + "CLIENT_ID")
		if id == "" {
			continue
		}
		providers[name] = OAuthProviderConfig{
			ClientID:     id,
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			RedirectURL:  os.Getenv(prefix + "REDIRECT_URL"),
		}
	}
	if len(providers) > 0 {
		cfg.OAuthProviders = providers
	}
	return cfg
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
