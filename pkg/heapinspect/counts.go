package heapinspect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FlagCount is the number of line pointers carrying one flag.
type FlagCount struct {
	Flag  LinePointerFlag
	Count int
}

// Counts maps line pointer flags to occurrences. Entries are sorted by flag
// and never zero, so two Counts describing the same page compare equal.
type Counts []FlagCount

// Classify counts records by flag. The result does not depend on the order
// of records; no records yields empty Counts.
func Classify(records []Record) Counts {
	m := make(map[LinePointerFlag]int)
	for _, r := range records {
		m[r.Flag]++
	}
	return CountsOf(m)
}

// CountsOf builds Counts from a map, dropping zero entries.
func CountsOf(m map[LinePointerFlag]int) Counts {
	var c Counts
	for f, n := range m {
		if n == 0 {
			continue
		}
		c = append(c, FlagCount{Flag: f, Count: n})
	}
	sort.Slice(c, func(i, j int) bool { return c[i].Flag < c[j].Flag })
	return c
}

// Get returns the count for f, zero when absent.
func (c Counts) Get(f LinePointerFlag) int {
	for _, fc := range c {
		if fc.Flag == f {
			return fc.Count
		}
	}
	return 0
}

// Total returns the number of line pointers counted.
func (c Counts) Total() int {
	total := 0
	for _, fc := range c {
		total += fc.Count
	}
	return total
}

func (c Counts) Equal(other Counts) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders c as {0:13, 1:2, 2:1}.
func (c Counts) String() string {
	parts := make([]string, 0, len(c))
	for _, fc := range c {
		parts = append(parts, fmt.Sprintf("%d:%d", fc.Flag, fc.Count))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ParseCounts parses the String form, with or without braces and spaces.
func ParseCounts(s string) (Counts, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	m := make(map[LinePointerFlag]int)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid flag count %q: want flag:count", part)
		}
		flag, err := strconv.ParseUint(strings.TrimSpace(k), 10, 8)
		if err != nil || flag > uint64(Dead) {
			return nil, fmt.Errorf("invalid line pointer flag %q", k)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid count %q for flag %d", v, flag)
		}
		if _, dup := m[LinePointerFlag(flag)]; dup {
			return nil, fmt.Errorf("duplicate line pointer flag %d", flag)
		}
		m[LinePointerFlag(flag)] = n
	}
	return CountsOf(m), nil
}
