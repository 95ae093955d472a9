package experiment

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/heapinspect"
)

// Step is one action or expectation of a scenario.
type Step interface {
	fmt.Stringer
	run(ctx context.Context, r *Runner, st *state) error
}

// AssertionError is returned when a page observation does not match an
// expectation.
type AssertionError struct {
	Step string
	Want string
	Got  string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: want %s, got %s", e.Step, e.Want, e.Got)
}

// Reset drops and recreates the fixture table.
type Reset struct{}

func (Reset) String() string { return "reset fixture" }

func (Reset) run(ctx context.Context, r *Runner, st *state) error {
	if err := r.env.Fixture.Reset(ctx); err != nil {
		return err
	}
	st.account = 0
	return nil
}

// Upsert makes sure the account with Key exists and remembers its id.
type Upsert struct {
	Key string
}

func (s Upsert) String() string { return fmt.Sprintf("upsert account %q", s.Key) }

func (s Upsert) run(ctx context.Context, r *Runner, st *state) error {
	id, err := r.env.Accounts.UpsertPlaceholder(ctx, s.Key)
	if err != nil {
		return err
	}
	st.account = id
	return nil
}

// Update sets the account balance to every value in [From, To], one
// statement per value.
type Update struct {
	From, To int64
}

func (s Update) String() string {
	if s.From == s.To {
		return fmt.Sprintf("set balance to %d", s.From)
	}
	return fmt.Sprintf("set balance to %d..%d", s.From, s.To)
}

func (s Update) run(ctx context.Context, r *Runner, st *state) error {
	if st.account == 0 {
		return errors.New("no account to update")
	}
	for b := s.From; b <= s.To; b++ {
		if err := r.env.Accounts.SetBalance(ctx, st.account, b); err != nil {
			return err
		}
	}
	return nil
}

// Fill keeps updating the account, starting at balance From, until the page
// holds at least UntilTotal line pointers. At most Max updates are issued;
// zero means the configured fill limit.
type Fill struct {
	UntilTotal int
	From       int64
	Max        int
}

func (s Fill) String() string {
	return fmt.Sprintf("update until page holds %d line pointers", s.UntilTotal)
}

func (s Fill) run(ctx context.Context, r *Runner, st *state) error {
	if st.account == 0 {
		return errors.New("no account to update")
	}
	limit := s.Max
	if limit <= 0 {
		limit = r.cfg.FillLimit
	}

	balance := s.From
	for i := 0; ; i++ {
		snap, err := r.env.Inspector.Snapshot(ctx, r.cfg.Relation, r.page())
		if err != nil {
			return err
		}
		if snap.Counts.Total() >= s.UntilTotal {
			level.Debug(r.logger).Log("msg", "page filled", "updates", i, "line_pointers", snap.Counts.Total())
			return nil
		}
		if i == limit {
			return errors.Errorf("page holds %d line pointers after %d updates", snap.Counts.Total(), limit)
		}
		if err := r.env.Accounts.SetBalance(ctx, st.account, balance); err != nil {
			return err
		}
		balance++
	}
}

// Read reads the fixture on the primary session. Reads give the server a
// chance to prune the page.
type Read struct{}

func (Read) String() string { return "read fixture" }

func (Read) run(ctx context.Context, r *Runner, _ *state) error {
	_, err := r.env.Accounts.Count(ctx)
	return err
}

// BeginReader opens a reader session and reads through it so its snapshot
// is taken before the step returns.
type BeginReader struct {
	Name string
}

func (s BeginReader) String() string { return fmt.Sprintf("begin reader %q", s.Name) }

func (s BeginReader) run(ctx context.Context, r *Runner, st *state) error {
	if _, ok := st.readers[s.Name]; ok {
		return errors.Errorf("reader %q is already open", s.Name)
	}
	reader, err := r.env.Sessions.BeginReader(ctx, s.Name)
	if err != nil {
		return err
	}
	if err := reader.Read(ctx); err != nil {
		if rbErr := reader.Rollback(ctx); rbErr != nil {
			level.Warn(r.logger).Log("msg", "failed to roll back reader", "reader", s.Name, "err", rbErr)
		}
		return err
	}
	st.readers[s.Name] = reader
	return nil
}

// CommitReader commits a reader opened by BeginReader, releasing its
// snapshot.
type CommitReader struct {
	Name string
}

func (s CommitReader) String() string { return fmt.Sprintf("commit reader %q", s.Name) }

func (s CommitReader) run(ctx context.Context, _ *Runner, st *state) error {
	reader, ok := st.readers[s.Name]
	if !ok {
		return errors.Errorf("reader %q is not open", s.Name)
	}
	delete(st.readers, s.Name)
	return reader.Commit(ctx)
}

// ExpectTotal checks the number of line pointers on the page.
type ExpectTotal struct {
	N int
}

func (s ExpectTotal) String() string { return fmt.Sprintf("expect %d line pointers", s.N) }

func (s ExpectTotal) run(ctx context.Context, r *Runner, _ *state) error {
	snap, err := r.observe(ctx, s)
	if err != nil {
		return err
	}
	if got := snap.Counts.Total(); got != s.N {
		return &AssertionError{Step: s.String(), Want: fmt.Sprint(s.N), Got: fmt.Sprintf("%d %s", got, snap.Counts)}
	}
	return nil
}

// ExpectCounts checks the exact per-flag counts of the page.
type ExpectCounts struct {
	Counts heapinspect.Counts
}

func (s ExpectCounts) String() string { return fmt.Sprintf("expect counts %s", s.Counts) }

func (s ExpectCounts) run(ctx context.Context, r *Runner, _ *state) error {
	snap, err := r.observe(ctx, s)
	if err != nil {
		return err
	}
	if !snap.Counts.Equal(s.Counts) {
		return &AssertionError{Step: s.String(), Want: s.Counts.String(), Got: snap.Counts.String()}
	}
	return nil
}

// ExpectFlag checks how many line pointers carry one flag.
type ExpectFlag struct {
	Flag heapinspect.LinePointerFlag
	N    int
}

func (s ExpectFlag) String() string { return fmt.Sprintf("expect %d %s line pointers", s.N, s.Flag) }

func (s ExpectFlag) run(ctx context.Context, r *Runner, _ *state) error {
	snap, err := r.observe(ctx, s)
	if err != nil {
		return err
	}
	if got := snap.Counts.Get(s.Flag); got != s.N {
		return &AssertionError{Step: s.String(), Want: fmt.Sprint(s.N), Got: fmt.Sprintf("%d %s", got, snap.Counts)}
	}
	return nil
}

// ExpectPages checks how many pages the relation occupies.
type ExpectPages struct {
	N int
}

func (s ExpectPages) String() string { return fmt.Sprintf("expect %d page(s)", s.N) }

func (s ExpectPages) run(ctx context.Context, r *Runner, _ *state) error {
	pages, err := r.env.Inspector.PageCount(ctx, r.cfg.Relation)
	if err != nil {
		return err
	}
	if pages != s.N {
		return &AssertionError{Step: s.String(), Want: fmt.Sprint(s.N), Got: fmt.Sprint(pages)}
	}
	return nil
}

// Pause waits for the operator, regardless of interactive mode.
type Pause struct {
	Prompt string
}

func (s Pause) String() string { return fmt.Sprintf("pause: %s", s.Prompt) }

func (s Pause) run(_ context.Context, r *Runner, _ *state) error {
	return r.pause(s.Prompt)
}
