package experiment

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/heapinspect"
)

// Calibrate measures the page capacity of the server behind env. It resets the
// fixture and updates one account until the first prune shows up as a
// non-normal line pointer; the capacity is the line pointer count seen just
// before. The fixture is reset again afterwards.
func Calibrate(ctx context.Context, cfg Config, env Env, logger log.Logger) (Thresholds, error) {
	if err := env.Fixture.Reset(ctx); err != nil {
		return Thresholds{}, err
	}
	id, err := env.Accounts.UpsertPlaceholder(ctx, cfg.IdempotencyKey)
	if err != nil {
		return Thresholds{}, err
	}

	snap, err := env.Inspector.Snapshot(ctx, cfg.Relation, uint32(cfg.Page))
	if err != nil {
		return Thresholds{}, err
	}
	previous := snap.Counts.Total()

	var t Thresholds
	for balance := int64(1); balance <= int64(cfg.MaxCalibrationUpdates); balance++ {
		if err := env.Accounts.SetBalance(ctx, id, balance); err != nil {
			return Thresholds{}, err
		}
		snap, err := env.Inspector.Snapshot(ctx, cfg.Relation, uint32(cfg.Page))
		if err != nil {
			return Thresholds{}, err
		}
		if snap.Counts.Get(heapinspect.Normal) != snap.Counts.Total() {
			level.Debug(logger).Log("msg", "page pruned", "updates", balance, "counts", snap.Counts)
			t.PageCapacity = previous
			break
		}
		previous = snap.Counts.Total()
	}
	if t.PageCapacity == 0 {
		return Thresholds{}, errors.Errorf("page %d of %s was not pruned after %d updates", cfg.Page, cfg.Relation, cfg.MaxCalibrationUpdates)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}

	if err := env.Fixture.Reset(ctx); err != nil {
		return Thresholds{}, err
	}
	level.Info(logger).Log("msg", "calibrated page capacity", "relation", cfg.Relation, "page", cfg.Page, "capacity", t.PageCapacity)
	return t, nil
}

// ResolveThresholds returns the configured page capacity, calibrating against
// env when none is configured.
func ResolveThresholds(ctx context.Context, cfg Config, env Env, logger log.Logger) (Thresholds, error) {
	if cfg.PageCapacity > 0 {
		t := Thresholds{PageCapacity: cfg.PageCapacity}
		return t, t.Validate()
	}
	return Calibrate(ctx, cfg, env, logger)
}
