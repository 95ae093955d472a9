// Package accounts owns the fixture table experiments mutate. The table is
// deliberately tiny and packed loosely (FILLFACTOR 10) so a handful of
// updates is enough to fill a heap page and trigger pruning.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/grafana/heapprobe/pkg/session"
)

// TableName is the fixture table created by the embedded migrations.
const TableName = "accounts"

// checkViolation is the SQLSTATE for check_violation.
const checkViolation = "23514"

var (
	// ErrNoSuchAccount is returned when an update matched no row.
	ErrNoSuchAccount = errors.New("no such account")
	// ErrNegativeBalance is returned when a balance would violate the
	// non-negative check constraint.
	ErrNegativeBalance = errors.New("balance must not be negative")
)

// Store runs account statements on a caller-chosen session.
type Store struct {
	q      session.Querier
	logger log.Logger
}

// NewStore creates a Store issuing statements through q.
func NewStore(q session.Querier, logger log.Logger) *Store {
	return &Store{
		q:      q,
		logger: logger,
	}
}

// TableExists reports whether a user table called name is present in the
// statistics catalog.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_stat_user_tables WHERE relname = $1)",
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", name, err)
	}
	return exists, nil
}

// UpsertPlaceholder returns the id of the account with the given idempotency
// key, inserting it with a zero balance when it does not exist yet. An
// existing key leaves the table untouched, so no new tuple version appears.
//
// The insert is a single conflict-aware statement, so concurrent callers with
// the same key cannot both insert. When the key already exists the id is read
// in a second statement, which sees rows committed by concurrent inserters.
func (s *Store) UpsertPlaceholder(ctx context.Context, key string) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO accounts(idempotency_key, balance) VALUES($1, 0)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING a_id`,
		key,
	).Scan(&id)
	switch {
	case err == nil:
		level.Debug(s.logger).Log("msg", "inserted account", "idempotency_key", key, "a_id", id)
		return id, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, fmt.Errorf("failed to insert account %q: %w", key, err)
	}

	err = s.q.QueryRow(ctx,
		"SELECT a_id FROM accounts WHERE idempotency_key = $1",
		key,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up account %q: %w", key, err)
	}
	level.Debug(s.logger).Log("msg", "account already exists", "idempotency_key", key, "a_id", id)
	return id, nil
}

// SetBalance overwrites the balance of account id.
func (s *Store) SetBalance(ctx context.Context, id, balance int64) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE accounts SET balance = $2 WHERE a_id = $1",
		id, balance,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return fmt.Errorf("account %d: %w", id, ErrNegativeBalance)
		}
		return fmt.Errorf("failed to update account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNoSuchAccount)
	}
	return nil
}

// Balance returns the current balance of account id.
func (s *Store) Balance(ctx context.Context, id int64) (int64, error) {
	var balance int64
	err := s.q.QueryRow(ctx, "SELECT balance FROM accounts WHERE a_id = $1", id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("account %d: %w", id, ErrNoSuchAccount)
		}
		return 0, fmt.Errorf("failed to read account %d: %w", id, err)
	}
	return balance, nil
}

// Count returns the number of accounts visible to the session. The scan
// reads every heap page, which also gives the server a chance to prune them.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM accounts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}
