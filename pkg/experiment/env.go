package experiment

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grafana/heapprobe/pkg/accounts"
	"github.com/grafana/heapprobe/pkg/heapinspect"
	"github.com/grafana/heapprobe/pkg/session"
)

// Fixture resets the table experiments run against.
type Fixture interface {
	Reset(ctx context.Context) error
}

// Accounts mutates and reads the fixture on the primary session.
type Accounts interface {
	UpsertPlaceholder(ctx context.Context, key string) (int64, error)
	SetBalance(ctx context.Context, id, balance int64) error
	Count(ctx context.Context) (int64, error)
}

// Inspector observes heap pages.
type Inspector interface {
	Snapshot(ctx context.Context, relation string, page uint32) (heapinspect.Snapshot, error)
	PageCount(ctx context.Context, relation string) (int, error)
}

// Reader is a concurrent session holding a snapshot open.
type Reader interface {
	// Read reads the fixture inside the reader's transaction.
	Read(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Sessions opens concurrent readers.
type Sessions interface {
	BeginReader(ctx context.Context, name string) (Reader, error)
}

// Env is everything a Runner needs from the outside world.
type Env struct {
	Fixture   Fixture
	Accounts  Accounts
	Inspector Inspector
	Sessions  Sessions

	// In and Out are used for interactive pauses.
	In  io.Reader
	Out io.Writer
}

// NewPostgresEnv wires an Env to a live server. The fixture, account updates
// and inspections share pool; every reader gets a dedicated connection.
func NewPostgresEnv(pool *pgxpool.Pool, metrics *heapinspect.Metrics, in io.Reader, out io.Writer, logger log.Logger) (Env, func() error) {
	schema := accounts.NewSchema(pool, logger)
	return Env{
		Fixture:   schema,
		Accounts:  accounts.NewStore(pool, logger),
		Inspector: heapinspect.New(pool, metrics, logger),
		Sessions:  &pgSessions{pool: pool, logger: logger},
		In:        in,
		Out:       out,
	}, schema.Close
}

// readerTxOptions keeps one snapshot for the whole transaction. Under READ
// COMMITTED the snapshot would be dropped after every statement and the
// reader would not hold back pruning.
var readerTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

type pgSessions struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

func (s *pgSessions) BeginReader(ctx context.Context, name string) (Reader, error) {
	sess, err := session.Begin(ctx, s.pool, name, readerTxOptions, s.logger)
	if err != nil {
		return nil, err
	}
	return &pgReader{
		Session: sess,
		store:   accounts.NewStore(sess, s.logger),
	}, nil
}

type pgReader struct {
	*session.Session
	store *accounts.Store
}

func (r *pgReader) Read(ctx context.Context) error {
	_, err := r.store.Count(ctx)
	return err
}
