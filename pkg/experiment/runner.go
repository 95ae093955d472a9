// Package experiment drives the fixture through scripted scenarios and checks
// how the inspected heap page reacts.
package experiment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/heapinspect"
)

// Scenario is a named, ordered list of steps.
type Scenario struct {
	Name        string
	Description string
	Steps       []Step
}

// Runner executes scenarios one step at a time. Every scenario starts from
// fresh state; readers it leaves open are rolled back when it returns.
type Runner struct {
	cfg    Config
	env    Env
	logger log.Logger
	in     *bufio.Reader

	// OnSnapshot, when set, is called with every page snapshot an
	// expectation takes.
	OnSnapshot func(scenario string, step Step, snap heapinspect.Snapshot)

	current string
}

// NewRunner creates a Runner. cfg is expected to be validated.
func NewRunner(cfg Config, env Env, logger log.Logger) *Runner {
	r := &Runner{
		cfg:    cfg,
		env:    env,
		logger: logger,
	}
	if env.In != nil {
		r.in = bufio.NewReader(env.In)
	}
	return r
}

type state struct {
	account int64
	readers map[string]Reader
}

// Run executes every step of sc in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, sc Scenario) (err error) {
	st := &state{readers: map[string]Reader{}}
	defer func() {
		for name, reader := range st.readers {
			if rbErr := reader.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				level.Warn(r.logger).Log("msg", "failed to roll back reader", "scenario", sc.Name, "reader", name, "err", rbErr)
			}
		}
	}()

	r.current = sc.Name
	start := time.Now()
	level.Info(r.logger).Log("msg", "running scenario", "scenario", sc.Name, "steps", len(sc.Steps))

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		level.Debug(r.logger).Log("msg", "running step", "scenario", sc.Name, "step", i+1, "action", step)
		if err := step.run(ctx, r, st); err != nil {
			level.Error(r.logger).Log("msg", "scenario failed", "scenario", sc.Name, "step", i+1, "action", step, "err", err)
			return errors.Wrapf(err, "scenario %s: step %d (%s)", sc.Name, i+1, step)
		}
	}

	level.Info(r.logger).Log("msg", "scenario passed", "scenario", sc.Name, "duration", time.Since(start))
	return nil
}

func (r *Runner) page() uint32 {
	return uint32(r.cfg.Page)
}

// observe snapshots the page on behalf of an expectation.
func (r *Runner) observe(ctx context.Context, step Step) (heapinspect.Snapshot, error) {
	snap, err := r.env.Inspector.Snapshot(ctx, r.cfg.Relation, r.page())
	if err != nil {
		return heapinspect.Snapshot{}, err
	}
	level.Debug(r.logger).Log("msg", "page snapshot", "scenario", r.current, "action", step, "counts", snap.Counts)
	if r.OnSnapshot != nil {
		r.OnSnapshot(r.current, step, snap)
	}
	if r.cfg.Interactive {
		if err := r.pause(fmt.Sprintf("%s: %s", r.current, step)); err != nil {
			return heapinspect.Snapshot{}, err
		}
	}
	return snap, nil
}

// pause prints prompt and waits for a line on the input. Without an input it
// returns immediately.
func (r *Runner) pause(prompt string) error {
	if r.in == nil {
		return nil
	}
	if r.env.Out != nil {
		fmt.Fprintf(r.env.Out, "%s - press enter to continue ", prompt)
	}
	if _, err := r.in.ReadString('\n'); err != nil && err != io.EOF {
		return errors.Wrap(err, "waiting for input")
	}
	return nil
}
