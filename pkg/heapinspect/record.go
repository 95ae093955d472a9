package heapinspect

import (
	"fmt"
)

// LinePointerFlag is the storage state of a line pointer (lp_flags).
type LinePointerFlag uint8

const (
	// Unused line pointers are free for reuse.
	Unused LinePointerFlag = 0
	// Normal line pointers point at a tuple stored on the page.
	Normal LinePointerFlag = 1
	// Redirect line pointers forward to another slot of a HOT chain.
	Redirect LinePointerFlag = 2
	// Dead line pointers have no storage and await index cleanup.
	Dead LinePointerFlag = 3
)

func (f LinePointerFlag) String() string {
	switch f {
	case Unused:
		return "unused"
	case Normal:
		return "normal"
	case Redirect:
		return "redirect"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("flag(%d)", uint8(f))
	}
}

// t_infomask2 bits.
const (
	heapHotUpdated = 0x4000
	heapOnlyTuple  = 0x8000
)

// TransactionID is a transaction id as text. Values are kept opaque because
// they do not fit every client integer type; the empty string means the
// field was NULL and "0" is the invalid transaction id.
type TransactionID string

// Valid reports whether the id names a real transaction.
func (x TransactionID) Valid() bool {
	return x != "" && x != "0"
}

// Record is the decoded state of one line pointer.
type Record struct {
	Slot   uint16
	Flag   LinePointerFlag
	Offset uint16
	Length uint16

	Xmin TransactionID
	Xmax TransactionID
	// Ctid is the tuple's own or successor's item pointer, e.g. "(0,3)".
	Ctid      string
	Infomask2 uint16
}

// HotUpdated reports whether the tuple was superseded by a heap-only
// version on the same page.
func (r Record) HotUpdated() bool {
	return r.Infomask2&heapHotUpdated != 0
}

// HeapOnly reports whether the tuple is reachable only through a HOT chain,
// with no index entry of its own.
func (r Record) HeapOnly() bool {
	return r.Infomask2&heapOnlyTuple != 0
}
