package experiment

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/heapinspect"
)

// MinPageCapacity is the smallest capacity the built-in scenarios can be
// derived from: a pruned page keeps a redirect and two normal line pointers
// and must still have a free one.
const MinPageCapacity = 4

const (
	HotChain   = "hot-chain"
	Prune      = "prune"
	LongReader = "long-reader"
)

// longReaderName names the reader session opened by the long-reader scenario.
const longReaderName = "long-reader"

// Thresholds are the page properties scenario expectations derive from.
type Thresholds struct {
	// PageCapacity is the number of line pointers on the page when the next
	// update prunes it.
	PageCapacity int
}

func (t Thresholds) Validate() error {
	if t.PageCapacity < MinPageCapacity {
		return errors.Errorf("page capacity %d is below %d", t.PageCapacity, MinPageCapacity)
	}
	return nil
}

// Builtin returns the built-in scenarios in the order they should run. Each
// one starts from a fresh fixture and repeats the setup of the previous one.
func Builtin(cfg Config, t Thresholds) []Scenario {
	return []Scenario{
		{
			Name:        HotChain,
			Description: "Update one row until the page is full of heap-only versions.",
			Steps:       append(hotChainSteps(cfg, t), ExpectPages{N: 1}),
		},
		{
			Name:        Prune,
			Description: "One more update prunes the chain down to a redirect and two versions.",
			Steps:       append(pruneSteps(cfg, t), ExpectPages{N: 1}),
		},
		{
			Name:        LongReader,
			Description: "An open repeatable-read snapshot holds back pruning until it commits.",
			Steps:       longReaderSteps(cfg, t),
		},
	}
}

// Names returns the names of scenarios, sorted.
func Names(scenarios []Scenario) []string {
	names := make([]string, 0, len(scenarios))
	for _, sc := range scenarios {
		names = append(names, sc.Name)
	}
	sort.Strings(names)
	return names
}

// Select returns the scenarios called names, in the order given. No names
// selects all of them.
func Select(scenarios []Scenario, names ...string) ([]Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	byName := make(map[string]Scenario, len(scenarios))
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}
	selected := make([]Scenario, 0, len(names))
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, errors.Errorf("unknown scenario %q, want one of %v", name, Names(scenarios))
		}
		selected = append(selected, sc)
	}
	return selected, nil
}

// hotChainSteps inserts the account and updates it until it occupies every
// line pointer the page holds before pruning.
func hotChainSteps(cfg Config, t Thresholds) []Step {
	c := t.PageCapacity
	return []Step{
		Reset{},
		Upsert{Key: cfg.IdempotencyKey},
		Update{From: 1, To: int64(c - 1)},
		ExpectTotal{N: c},
		ExpectCounts{Counts: heapinspect.Counts{{Flag: heapinspect.Normal, Count: c}}},
	}
}

// pruneSteps issues the update that prunes the full page. The root becomes a
// redirect, the version it points at and the new one stay normal.
func pruneSteps(cfg Config, t Thresholds) []Step {
	c := t.PageCapacity
	return append(hotChainSteps(cfg, t),
		Update{From: int64(c + 1), To: int64(c + 1)},
		ExpectTotal{N: c},
		ExpectCounts{Counts: heapinspect.Counts{
			{Flag: heapinspect.Unused, Count: c - 3},
			{Flag: heapinspect.Normal, Count: 2},
			{Flag: heapinspect.Redirect, Count: 1},
		}},
	)
}

// longReaderSteps keeps a snapshot open across updates so nothing can be
// pruned and the page grows by one line pointer. Once the reader commits, a
// plain read prunes everything but the redirect and the newest version.
func longReaderSteps(cfg Config, t Thresholds) []Step {
	c := t.PageCapacity
	return append(pruneSteps(cfg, t),
		BeginReader{Name: longReaderName},
		Fill{UntilTotal: c + 1, From: int64(c + 2)},
		ExpectTotal{N: c + 1},
		ExpectFlag{Flag: heapinspect.Unused, N: 0},
		CommitReader{Name: longReaderName},
		Read{},
		ExpectTotal{N: c + 1},
		ExpectCounts{Counts: heapinspect.Counts{
			{Flag: heapinspect.Unused, Count: c - 1},
			{Flag: heapinspect.Normal, Count: 1},
			{Flag: heapinspect.Redirect, Count: 1},
		}},
		ExpectPages{N: 1},
	)
}
