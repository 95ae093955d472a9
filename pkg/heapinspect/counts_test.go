package heapinspect

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordsWithFlags(flags ...LinePointerFlag) []Record {
	records := make([]Record, 0, len(flags))
	for i, f := range flags {
		records = append(records, Record{Slot: uint16(i + 1), Flag: f})
	}
	return records
}

func TestClassifyEmpty(t *testing.T) {
	require.Empty(t, Classify(nil))
	require.Empty(t, Classify([]Record{}))
	require.Equal(t, 0, Classify(nil).Total())
}

func TestClassifySingleFlag(t *testing.T) {
	flags := make([]LinePointerFlag, 16)
	for i := range flags {
		flags[i] = Normal
	}

	got := Classify(recordsWithFlags(flags...))
	require.Equal(t, Counts{{Flag: Normal, Count: 16}}, got)
}

func TestClassifyIsOrderIndependent(t *testing.T) {
	flags := []LinePointerFlag{Redirect, Normal}
	for i := 0; i < 13; i++ {
		flags = append(flags, Unused)
	}
	flags = append(flags, Normal)

	want := Counts{{Unused, 13}, {Normal, 2}, {Redirect, 1}}
	records := recordsWithFlags(flags...)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		rng.Shuffle(len(records), func(a, b int) { records[a], records[b] = records[b], records[a] })
		require.Equal(t, want, Classify(records))
	}
}

func TestCountsAccessors(t *testing.T) {
	c := Counts{{Unused, 15}, {Normal, 1}, {Redirect, 1}}

	assert.Equal(t, 15, c.Get(Unused))
	assert.Equal(t, 0, c.Get(Dead))
	assert.Equal(t, 17, c.Total())
	assert.Equal(t, "{0:15, 1:1, 2:1}", c.String())
	assert.True(t, c.Equal(Counts{{Unused, 15}, {Normal, 1}, {Redirect, 1}}))
	assert.False(t, c.Equal(Counts{{Unused, 15}, {Normal, 2}}))
	assert.Equal(t, "{}", Counts(nil).String())
}

func TestCountsOfDropsZeroes(t *testing.T) {
	got := CountsOf(map[LinePointerFlag]int{Dead: 2, Unused: 0, Normal: 1})
	require.Equal(t, Counts{{Normal, 1}, {Dead, 2}}, got)
}

func TestParseCounts(t *testing.T) {
	testCases := []struct {
		in      string
		want    Counts
		wantErr bool
	}{
		{in: "{0:13, 1:2, 2:1}", want: Counts{{Unused, 13}, {Normal, 2}, {Redirect, 1}}},
		{in: "2:1,0:13,1:2", want: Counts{{Unused, 13}, {Normal, 2}, {Redirect, 1}}},
		{in: "1:16", want: Counts{{Normal, 16}}},
		{in: "0:0,1:3", want: Counts{{Normal, 3}}},
		{in: "{}", want: nil},
		{in: "", want: nil},
		{in: "1=16", wantErr: true},
		{in: "4:1", wantErr: true},
		{in: "1:-1", wantErr: true},
		{in: "1:2,1:3", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCounts(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseCountsRoundTrip(t *testing.T) {
	c := Counts{{Unused, 15}, {Normal, 1}, {Redirect, 1}}
	got, err := ParseCounts(c.String())
	require.NoError(t, err)
	require.True(t, c.Equal(got))
}
