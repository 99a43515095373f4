// Package store is the credential store adapter: a bounded connection pool
// over the users database with logged, parameterized query execution.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/oneflow-erp/oneflow-api/internal"
)

const (
	DefaultMaxOpenConns   = 20
	DefaultConnectTimeout = 2 * time.Second
	DefaultIdleTimeout    = 30 * time.Second

	pgUniqueViolation = "23505"
)

type Config struct {
	DSN            string
	MaxOpenConns   int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// FatalHandler is invoked when the pool hits an unrecoverable resource error.
type FatalHandler func(err error)

type Pool struct {
	db              *sqlx.DB
	acquireTimeout  time.Duration
	logger          *slog.Logger
	onFatal         FatalHandler
	uniqueViolation func(error) bool
}

type Option func(*Pool)

func WithLogger(lg *slog.Logger) Option {
	return func(p *Pool) {
		if lg != nil {
			p.logger = lg
		}
	}
}

func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.acquireTimeout = d
		}
	}
}

func WithFatalHandler(fn FatalHandler) Option {
	return func(p *Pool) {
		if fn != nil {
			p.onFatal = fn
		}
	}
}

// WithUniqueViolation recognises unique index hits from a non-postgres
// driver. Postgres errors are always classified by SQLSTATE.
func WithUniqueViolation(fn func(error) bool) Option {
	return func(p *Pool) {
		p.uniqueViolation = fn
	}
}

// Open connects to postgres through pgx's stdlib adapter and applies the pool bounds.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	pgCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: failed to parse DSN: %w", err)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	pgCfg.ConnectTimeout = connectTimeout

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	db := sqlx.NewDb(stdlib.OpenDB(*pgCfg), "pgx")
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(idle)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: failed to connect to postgres: %w", err)
	}

	opts = append([]Option{WithAcquireTimeout(connectTimeout)}, opts...)
	return New(db, opts...), nil
}

// New wraps an existing handle. Tests use it with an in-memory database.
func New(db *sqlx.DB, opts ...Option) *Pool {
	p := &Pool{
		db:             db,
		acquireTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
	}
	p.onFatal = func(err error) {
		p.logger.Error("store: unrecoverable pool error, terminating", "error", err)
		os.Exit(1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) DB() *sqlx.DB {
	return p.db
}

// Rebind converts '?' placeholders to the driver's bind style.
func (p *Pool) Rebind(query string) string {
	return p.db.Rebind(query)
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// Client checks out one pooled connection. Callers must Close it.
func (p *Pool) Client(ctx context.Context) (*sqlx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Connx(acquireCtx)
	if err != nil {
		return nil, p.fail("acquire", "", time.Now(), err)
	}
	return conn, nil
}

// Query runs a parameterized select into dest, which must point to a slice.
func (p *Pool) Query(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	query = p.Rebind(query)

	conn, err := p.Client(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SelectContext(ctx, dest, query, args...); err != nil {
		return p.fail("query", query, start, err)
	}

	p.logQuery(ctx, query, start, sliceLen(dest))
	return nil
}

// Get scans a single row into dest. It reports false, without error, when
// no row matched.
func (p *Pool) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	start := time.Now()
	query = p.Rebind(query)

	conn, err := p.Client(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := conn.GetContext(ctx, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.logQuery(ctx, query, start, 0)
			return false, nil
		}
		return false, p.fail("get", query, start, err)
	}

	p.logQuery(ctx, query, start, 1)
	return true, nil
}

// Exec runs a statement and returns the number of affected rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	start := time.Now()
	query = p.Rebind(query)

	conn, err := p.Client(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, p.fail("exec", query, start, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, p.fail("exec", query, start, err)
	}

	p.logQuery(ctx, query, start, int(affected))
	return affected, nil
}

// WithTx runs fn inside a transaction on a single checked-out connection.
// fn's error or panic rolls back; otherwise the transaction commits.
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	conn, err := p.Client(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return p.fail("begin", "", time.Now(), err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = p.fail("commit", "", time.Now(), cerr)
		}
	}()

	return fn(ctx, tx)
}

func (p *Pool) logQuery(ctx context.Context, query string, start time.Time, rows int) {
	p.logger.DebugContext(ctx, "executed query",
		"query", compact(query),
		"duration_ms", time.Since(start).Milliseconds(),
		"rows", rows)
}

func (p *Pool) fail(op, query string, start time.Time, err error) error {
	if isFatal(err) {
		p.onFatal(err)
	}
	p.logger.Error("database query failed",
		"op", op,
		"query", compact(query),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err)
	return internal.NewDatabaseError(err)
}

// IsUniqueViolation reports whether err came from a unique index, such as
// users_active_email_key.
func (p *Pool) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return p.uniqueViolation != nil && p.uniqueViolation(err)
}

func isFatal(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}

func sliceLen(dest interface{}) int {
	v := reflect.ValueOf(dest)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice {
		return v.Len()
	}
	return 1
}

func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
