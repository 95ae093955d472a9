// Package heapinspect reads heap pages of a live relation through the
// pageinspect extension and summarises their line pointers.
//
// Every read is a point-in-time snapshot: concurrent transactions may modify
// or prune the page between two calls, and nothing here prevents that.
package heapinspect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/grafana/heapprobe/pkg/session"
)

// BlockSize is PostgreSQL's default page size.
const BlockSize = 8192

const (
	undefinedTable        = "42P01"
	invalidParameterValue = "22023"
)

var (
	// ErrPageOutOfRange is returned for a page beyond the end of the relation.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrUnknownRelation is returned when the relation does not exist.
	ErrUnknownRelation = errors.New("unknown relation")
)

// Snapshot is the state of one page at the time it was read.
type Snapshot struct {
	Relation string
	Page     uint32
	Records  []Record
	Counts   Counts
}

// Inspector issues diagnostic queries on a caller-chosen session.
type Inspector struct {
	q       session.Querier
	metrics *Metrics
	logger  log.Logger
}

// New creates an Inspector. metrics may be nil.
func New(q session.Querier, metrics *Metrics, logger log.Logger) *Inspector {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Inspector{
		q:       q,
		metrics: metrics,
		logger:  logger,
	}
}

// EnsureExtension installs pageinspect when it is missing. It needs a role
// allowed to create extensions.
func (i *Inspector) EnsureExtension(ctx context.Context) error {
	if _, err := i.q.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS pageinspect"); err != nil {
		return fmt.Errorf("failed to create pageinspect extension: %w", err)
	}
	return nil
}

// PageCount refreshes statistics for relation and returns how many pages the
// server estimates it occupies. The estimate only moves when statistics are
// refreshed, which is why this always analyzes first.
func (i *Inspector) PageCount(ctx context.Context, relation string) (int, error) {
	if _, err := i.q.Exec(ctx, "ANALYZE "+quoteRelation(relation)); err != nil {
		return 0, translateError(relation, 0, fmt.Errorf("failed to analyze %s: %w", relation, err))
	}

	var pages int32
	err := i.q.QueryRow(ctx,
		"SELECT relpages FROM pg_class WHERE oid = $1::regclass",
		relation,
	).Scan(&pages)
	if err != nil {
		return 0, translateError(relation, 0, fmt.Errorf("failed to read page count of %s: %w", relation, err))
	}

	i.metrics.observePages(relation, int(pages))
	return int(pages), nil
}

// ReadPage decodes every line pointer of page in on-page order.
func (i *Inspector) ReadPage(ctx context.Context, relation string, page uint32) ([]Record, error) {
	records, err := i.readPage(ctx, relation, page)
	i.metrics.observeInspection(relation, err)
	if err != nil {
		return nil, err
	}
	level.Debug(i.logger).Log("msg", "read heap page", "relation", relation, "page", page, "line_pointers", len(records))
	return records, nil
}

func (i *Inspector) readPage(ctx context.Context, relation string, page uint32) ([]Record, error) {
	rows, err := i.q.Query(ctx, `
		SELECT lp, lp_flags, lp_off, lp_len, t_xmin::text, t_xmax::text, t_ctid::text, t_infomask2
		FROM heap_page_items(get_raw_page($1::text, $2::int))
		ORDER BY lp`,
		relation, int64(page),
	)
	if err != nil {
		return nil, translateError(relation, page, fmt.Errorf("failed to read page %d of %s: %w", page, relation, err))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			lp, flags, off, length int16
			xmin, xmax, ctid       pgtype.Text
			infomask2              pgtype.Int4
		)
		if err := rows.Scan(&lp, &flags, &off, &length, &xmin, &xmax, &ctid, &infomask2); err != nil {
			return nil, fmt.Errorf("failed to decode line pointer of page %d of %s: %w", page, relation, err)
		}

		r := Record{
			Slot:   uint16(lp),
			Flag:   LinePointerFlag(flags),
			Offset: uint16(off),
			Length: uint16(length),
		}
		if xmin.Valid {
			r.Xmin = TransactionID(xmin.String)
		}
		if xmax.Valid {
			r.Xmax = TransactionID(xmax.String)
		}
		if ctid.Valid {
			r.Ctid = ctid.String
		}
		if infomask2.Valid {
			r.Infomask2 = uint16(infomask2.Int32)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(relation, page, fmt.Errorf("failed to read page %d of %s: %w", page, relation, err))
	}
	return records, nil
}

// Snapshot reads page and classifies its line pointers.
func (i *Inspector) Snapshot(ctx context.Context, relation string, page uint32) (Snapshot, error) {
	records, err := i.ReadPage(ctx, relation, page)
	if err != nil {
		return Snapshot{}, err
	}
	counts := Classify(records)
	i.metrics.observeSnapshot(relation, page, counts)
	return Snapshot{
		Relation: relation,
		Page:     page,
		Records:  records,
		Counts:   counts,
	}, nil
}

// translateError maps server errors onto the package's sentinel errors while
// keeping the original error in the chain.
func translateError(relation string, page uint32, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == undefinedTable:
		return fmt.Errorf("%w %s: %w", ErrUnknownRelation, relation, err)
	case pgErr.Code == invalidParameterValue && strings.Contains(pgErr.Message, "out of range"):
		return fmt.Errorf("%w: page %d of %s: %w", ErrPageOutOfRange, page, relation, err)
	}
	return err
}

// quoteRelation quotes a possibly schema-qualified relation name for use as
// an identifier.
func quoteRelation(relation string) string {
	return pgx.Identifier(strings.Split(relation, ".")).Sanitize()
}
