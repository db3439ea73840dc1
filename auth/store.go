package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// dbHandle abstracts *sql.DB for testability and context-aware calls.
type dbHandle interface {
	Close() error
	Exec(query string, args ...any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Begin() (*sql.Tx, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// sqlDB is the concrete DB handle in production (embeds *sql.DB).
type sqlDB struct{ *sql.DB }

func (s *sqlDB) Begin() (*sql.Tx, error) { return s.DB.Begin() }
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, opts)
}

// rebindDB rewrites "?" placeholders to "$n" so the queries in this package
// can stay in one dialect while running on lib/pq.
type rebindDB struct{ inner dbHandle }

func (r *rebindDB) Close() error { return r.inner.Close() }
func (r *rebindDB) Exec(query string, args ...any) (sql.Result, error) {
	return r.inner.Exec(rebind(query), args...)
}
func (r *rebindDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.inner.ExecContext(ctx, rebind(query), args...)
}
func (r *rebindDB) QueryRow(query string, args ...any) *sql.Row {
	return r.inner.QueryRow(rebind(query), args...)
}
func (r *rebindDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.inner.QueryRowContext(ctx, rebind(query), args...)
}
func (r *rebindDB) Begin() (*sql.Tx, error) { return r.inner.Begin() }
func (r *rebindDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return r.inner.BeginTx(ctx, opts)
}

// q rebinds a query for the active driver. Statements run inside an explicit
// *sql.Tx do not pass through the rebind handle, so they go through here.
func (a *API) q(query string) string {
	if a.cfg.Driver == "postgres" {
		return rebind(query)
	}
	return query
}

func rebind(query string) string {
	if !strings.ContainsRune(query, '?') {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// newAPI constructs the API and initializes the database.
func newAPI(cfg Config) (*API, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite3":
		db, err = sql.Open("sqlite3", cfg.DSN+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA synchronous=NORMAL;`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragmas: %w", err)
		}
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	var handle dbHandle = &sqlDB{DB: db}
	if cfg.Driver == "postgres" {
		handle = &rebindDB{inner: handle}
	}

	api := &API{
		db:      handle,
		cfg:     cfg,
		limiter: newLoginLimiter(cfg.LoginRate, cfg.LoginBurst),
		stopCh:  make(chan struct{}),
	}
	if err := api.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	api.wg.Add(1)
	go api.pruneLoop()

	return api, nil
}

func (a *API) closeInternal() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
