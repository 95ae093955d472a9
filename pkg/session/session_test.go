package session

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var readerOpts = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

func TestSessionCommitReleasesOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readerOpts)
	mock.ExpectQuery(`SELECT count\(\*\) FROM accounts`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectCommit()

	released := 0
	ctx := context.Background()
	s, err := BeginOn(ctx, mock, func() { released++ }, "reader", readerOpts, log.NewNopLogger())
	require.NoError(t, err)
	require.Equal(t, "reader", s.Name())

	var n int64
	require.NoError(t, s.QueryRow(ctx, "SELECT count(*) FROM accounts").Scan(&n))
	require.Equal(t, int64(1), n)

	require.NoError(t, s.Commit(ctx))
	require.Equal(t, 1, released)

	// Finished sessions reject a second commit and ignore rollbacks.
	require.Error(t, s.Commit(ctx))
	require.NoError(t, s.Rollback(ctx))
	require.Equal(t, 1, released)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRollback(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readerOpts)
	mock.ExpectRollback()

	released := 0
	ctx := context.Background()
	s, err := BeginOn(ctx, mock, func() { released++ }, "reader", readerOpts, log.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, s.Rollback(ctx))
	require.Equal(t, 1, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionBeginFailureReleases(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readerOpts).WillReturnError(errors.New("too many connections"))

	released := 0
	_, err = BeginOn(context.Background(), mock, func() { released++ }, "reader", readerOpts, log.NewNopLogger())
	require.ErrorContains(t, err, "too many connections")
	require.Equal(t, 1, released)
	require.NoError(t, mock.ExpectationsWereMet())
}
