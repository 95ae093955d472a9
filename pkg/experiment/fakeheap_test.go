package experiment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/accounts"
	"github.com/grafana/heapprobe/pkg/heapinspect"
)

// fakeHeap models a single heap page holding one HOT chain. Updates place new
// versions on the page, reusing unused line pointers first. Once capacity line
// pointers are in use, the next access prunes the chain down to a redirecting
// root and the newest version, unless a reader holds a snapshot open.
type fakeHeap struct {
	mtx sync.Mutex

	capacity int
	lps      []heapinspect.LinePointerFlag
	root     int
	latest   int
	accounts map[string]int64
	balances map[int64]int64
	nextID   int64
	readers  int

	resets    int
	committed []string
	rolled    []string
	readerErr error
}

func newFakeHeap(capacity int) *fakeHeap {
	h := &fakeHeap{capacity: capacity}
	h.reset()
	return h
}

func (h *fakeHeap) env(in string, out *strings.Builder) Env {
	env := Env{
		Fixture:   h,
		Accounts:  h,
		Inspector: h,
		Sessions:  h,
	}
	if in != "" {
		env.In = strings.NewReader(in)
	}
	if out != nil {
		env.Out = out
	}
	return env
}

func (h *fakeHeap) reset() {
	h.lps = nil
	h.root, h.latest = -1, -1
	h.accounts = map[string]int64{}
	h.balances = map[int64]int64{}
	h.nextID = 0
}

func (h *fakeHeap) Reset(context.Context) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.reset()
	h.resets++
	return nil
}

func (h *fakeHeap) UpsertPlaceholder(_ context.Context, key string) (int64, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if id, ok := h.accounts[key]; ok {
		return id, nil
	}
	h.nextID++
	h.accounts[key] = h.nextID
	h.balances[h.nextID] = 0
	h.lps = append(h.lps, heapinspect.Normal)
	h.root = len(h.lps) - 1
	h.latest = h.root
	return h.nextID, nil
}

func (h *fakeHeap) SetBalance(_ context.Context, id, balance int64) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if _, ok := h.balances[id]; !ok {
		return accounts.ErrNoSuchAccount
	}
	if balance < 0 {
		return accounts.ErrNegativeBalance
	}
	h.maybePrune()
	h.balances[id] = balance
	h.latest = h.place()
	return nil
}

func (h *fakeHeap) Count(context.Context) (int64, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.maybePrune()
	return int64(len(h.accounts)), nil
}

func (h *fakeHeap) place() int {
	for i, f := range h.lps {
		if f == heapinspect.Unused {
			h.lps[i] = heapinspect.Normal
			return i
		}
	}
	h.lps = append(h.lps, heapinspect.Normal)
	return len(h.lps) - 1
}

func (h *fakeHeap) maybePrune() {
	inUse := 0
	for _, f := range h.lps {
		if f != heapinspect.Unused {
			inUse++
		}
	}
	if h.readers > 0 || inUse < h.capacity || h.root == h.latest {
		return
	}
	for i := range h.lps {
		switch i {
		case h.root:
			h.lps[i] = heapinspect.Redirect
		case h.latest:
			h.lps[i] = heapinspect.Normal
		default:
			h.lps[i] = heapinspect.Unused
		}
	}
}

func (h *fakeHeap) Snapshot(_ context.Context, relation string, page uint32) (heapinspect.Snapshot, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if page > 0 {
		return heapinspect.Snapshot{}, fmt.Errorf("%w: page %d", heapinspect.ErrPageOutOfRange, page)
	}
	records := make([]heapinspect.Record, 0, len(h.lps))
	for i, f := range h.lps {
		records = append(records, heapinspect.Record{Slot: uint16(i + 1), Flag: f})
	}
	return heapinspect.Snapshot{
		Relation: relation,
		Page:     page,
		Records:  records,
		Counts:   heapinspect.Classify(records),
	}, nil
}

func (h *fakeHeap) PageCount(context.Context, string) (int, error) {
	return 1, nil
}

func (h *fakeHeap) BeginReader(_ context.Context, name string) (Reader, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.readers++
	return &fakeReader{heap: h, name: name}, nil
}

func (h *fakeHeap) openReaders() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.readers
}

type fakeReader struct {
	heap *fakeHeap
	name string
	done bool
}

func (r *fakeReader) Read(context.Context) error {
	r.heap.mtx.Lock()
	defer r.heap.mtx.Unlock()
	return r.heap.readerErr
}

func (r *fakeReader) Commit(context.Context) error {
	return r.finish(&r.heap.committed)
}

func (r *fakeReader) Rollback(context.Context) error {
	return r.finish(&r.heap.rolled)
}

func (r *fakeReader) finish(into *[]string) error {
	r.heap.mtx.Lock()
	defer r.heap.mtx.Unlock()
	if r.done {
		return errors.Errorf("reader %s already finished", r.name)
	}
	r.done = true
	r.heap.readers--
	*into = append(*into, r.name)
	return nil
}
