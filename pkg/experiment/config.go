package experiment

import (
	"flag"

	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/accounts"
)

const (
	DefaultIdempotencyKey        = "2y"
	DefaultMaxCalibrationUpdates = 200
	DefaultFillLimit             = 500
)

// Config controls how experiments run.
type Config struct {
	// Relation is the table whose page is inspected.
	Relation string `yaml:"relation"`
	// Page is the heap page experiments observe.
	Page uint `yaml:"page"`
	// IdempotencyKey names the single account the experiments update.
	IdempotencyKey string `yaml:"idempotency_key"`

	// PageCapacity is the number of line pointers a page accumulates before
	// the server prunes it. Zero means measure it before running.
	PageCapacity int `yaml:"page_capacity"`
	// MaxCalibrationUpdates bounds the updates calibration issues while
	// waiting for the first prune.
	MaxCalibrationUpdates int `yaml:"max_calibration_updates"`
	// FillLimit bounds the updates a single fill step issues.
	FillLimit int `yaml:"fill_limit"`

	// Interactive pauses after every page snapshot until a line is read.
	Interactive bool `yaml:"interactive"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("experiment.", f)
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Relation, prefix+"relation", accounts.TableName, "Relation whose heap page is inspected.")
	f.UintVar(&cfg.Page, prefix+"page", 0, "Heap page observed by experiments.")
	f.StringVar(&cfg.IdempotencyKey, prefix+"idempotency-key", DefaultIdempotencyKey, "Idempotency key of the account experiments update.")
	f.IntVar(&cfg.PageCapacity, prefix+"page-capacity", 0, "Line pointers a page holds before it is pruned. 0 measures it against the server before running.")
	f.IntVar(&cfg.MaxCalibrationUpdates, prefix+"max-calibration-updates", DefaultMaxCalibrationUpdates, "Maximum updates issued while measuring page capacity.")
	f.IntVar(&cfg.FillLimit, prefix+"fill-limit", DefaultFillLimit, "Maximum updates a single fill step issues.")
	f.BoolVar(&cfg.Interactive, prefix+"interactive", false, "Wait for enter after every page snapshot.")
}

func (cfg *Config) Validate() error {
	if cfg.Relation == "" {
		return errors.New("experiment relation must be set")
	}
	if cfg.Page > uint(^uint32(0)>>1) {
		return errors.Errorf("experiment page %d is out of range", cfg.Page)
	}
	if cfg.IdempotencyKey == "" {
		return errors.New("experiment idempotency-key must be set")
	}
	if cfg.PageCapacity != 0 && cfg.PageCapacity < MinPageCapacity {
		return errors.Errorf("experiment page-capacity must be 0 or at least %d", MinPageCapacity)
	}
	if cfg.MaxCalibrationUpdates <= 0 {
		return errors.New("experiment max-calibration-updates must be greater than 0")
	}
	if cfg.FillLimit <= 0 {
		return errors.New("experiment fill-limit must be greater than 0")
	}
	return nil
}
