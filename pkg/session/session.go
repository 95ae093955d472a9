// Package session opens connections to the PostgreSQL instance under
// observation and hands out independently owned sessions. Nothing here
// coordinates sessions with each other: the interleaving of transactions is
// exactly what experiments vary.
package session

import (
	"context"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools, connections and
// transactions. Components take a Querier so callers choose which session a
// statement runs on.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxStarter begins transactions with explicit options.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (*Session)(nil)
)

// Open creates a connection pool from cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger log.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString(os.Getenv(PasswordEnv)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	level.Info(logger).Log(
		"msg", "connected to postgres",
		"host", poolCfg.ConnConfig.Host,
		"port", poolCfg.ConnConfig.Port,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// Session is a transaction on a connection owned exclusively by its caller.
// It must be finished with Commit or Rollback, which also give the connection
// back.
type Session struct {
	name    string
	tx      pgx.Tx
	release func()
	done    bool
	logger  log.Logger
}

// Begin acquires a dedicated connection from pool and starts a transaction
// on it.
func Begin(ctx context.Context, pool *pgxpool.Pool, name string, opts pgx.TxOptions, logger log.Logger) (*Session, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("session %s: failed to acquire connection: %w", name, err)
	}
	return BeginOn(ctx, conn, conn.Release, name, opts, logger)
}

// BeginOn starts a transaction through starter. release is called exactly
// once, when the session finishes or when beginning fails.
func BeginOn(ctx context.Context, starter TxStarter, release func(), name string, opts pgx.TxOptions, logger log.Logger) (*Session, error) {
	if release == nil {
		release = func() {}
	}
	tx, err := starter.BeginTx(ctx, opts)
	if err != nil {
		release()
		return nil, fmt.Errorf("session %s: failed to begin transaction: %w", name, err)
	}
	level.Debug(logger).Log("msg", "session started", "session", name, "isolation", opts.IsoLevel)
	return &Session{
		name:    name,
		tx:      tx,
		release: release,
		logger:  logger,
	}, nil
}

func (s *Session) Name() string { return s.name }

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.tx.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.tx.QueryRow(ctx, sql, args...)
}

// Commit commits the transaction and releases the connection.
func (s *Session) Commit(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("session %s: already finished", s.name)
	}
	defer s.finish()
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("session %s: failed to commit: %w", s.name, err)
	}
	level.Debug(s.logger).Log("msg", "session committed", "session", s.name)
	return nil
}

// Rollback aborts the transaction and releases the connection. Calling it on
// a finished session is a no-op, so it is safe to defer.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	defer s.finish()
	if err := s.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("session %s: failed to roll back: %w", s.name, err)
	}
	level.Debug(s.logger).Log("msg", "session rolled back", "session", s.name)
	return nil
}

func (s *Session) finish() {
	s.done = true
	s.release()
}
