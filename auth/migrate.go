package auth

import "fmt"

// Schema notes:
//   - IDs are opaque UUID strings, so both drivers share TEXT keys.
//   - Timestamps are unix seconds (INTEGER/BIGINT) to keep expiry arithmetic
//     identical across drivers.
//   - password_hash is NULL for OAuth-only accounts.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		active INTEGER NOT NULL DEFAULT 1,
		login_count INTEGER NOT NULL DEFAULT 0,
		last_login_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);`,
	`CREATE TABLE IF NOT EXISTS oauth_states (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		user_id TEXT,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_states_expires_at ON oauth_states(expires_at);`,
	`CREATE TABLE IF NOT EXISTS oauth_identities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(provider, provider_user_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		active INTEGER NOT NULL DEFAULT 1,
		login_count BIGINT NOT NULL DEFAULT 0,
		last_login_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at BIGINT NOT NULL,
		last_used_at BIGINT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);`,
	`CREATE TABLE IF NOT EXISTS oauth_states (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
		expires_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_states_expires_at ON oauth_states(expires_at);`,
	`CREATE TABLE IF NOT EXISTS oauth_identities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		provider_user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE(provider, provider_user_id)
	);`,
}

func (a *API) migrate() error {
	stmts := sqliteSchema
	if a.cfg.Driver == "postgres" {
		stmts = postgresSchema
	}
	for _, s := range stmts {
		if _, err := a.db.Exec(s); err != nil {
			return fmt.Errorf("migrate step: %w", err)
		}
	}
	return nil
}
