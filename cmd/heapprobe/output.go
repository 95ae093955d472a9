package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/grafana/heapprobe/pkg/experiment"
	"github.com/grafana/heapprobe/pkg/heapinspect"
)

var (
	bold     = color.New(color.Bold)
	flagText = map[heapinspect.LinePointerFlag]*color.Color{
		heapinspect.Unused:   color.New(color.Faint),
		heapinspect.Normal:   color.New(color.FgGreen),
		heapinspect.Redirect: color.New(color.FgCyan),
		heapinspect.Dead:     color.New(color.FgRed),
	}
)

func flagString(f heapinspect.LinePointerFlag) string {
	if c, ok := flagText[f]; ok {
		return c.Sprint(f)
	}
	return f.String()
}

// printSnapshot prints a page summary and, when records is set, one row per
// line pointer.
func printSnapshot(w io.Writer, snap heapinspect.Snapshot, pages int, records bool) {
	var used uint64
	for _, r := range snap.Records {
		used += uint64(r.Length)
	}

	bold.Fprintf(w, "%s page %d\n", snap.Relation, snap.Page)
	fmt.Fprintf(w, "\trelation pages: %d (%v)\n", pages, humanize.IBytes(uint64(pages)*heapinspect.BlockSize))
	fmt.Fprintf(w, "\tline pointers: %d, counts: %s\n", snap.Counts.Total(), snap.Counts)
	fmt.Fprintf(w, "\ttuple data: %v of %v\n", humanize.IBytes(used), humanize.IBytes(heapinspect.BlockSize))
	if !records || len(snap.Records) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tLP\tFLAG\tOFF\tLEN\tXMIN\tXMAX\tCTID\tHOT")
	for _, r := range snap.Records {
		fmt.Fprintf(tw, "\t%d\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.Slot, flagString(r.Flag), r.Offset, r.Length, r.Xmin, r.Xmax, r.Ctid, hotMarker(r))
	}
	_ = tw.Flush()
}

func hotMarker(r heapinspect.Record) string {
	switch {
	case r.HotUpdated() && r.HeapOnly():
		return "heap-only, updated"
	case r.HotUpdated():
		return "updated"
	case r.HeapOnly():
		return "heap-only"
	}
	return ""
}

// printObservation prints what an expectation saw.
func printObservation(w io.Writer, step experiment.Step, snap heapinspect.Snapshot) {
	fmt.Fprintf(w, "\t%-40s %3d line pointers %s\n", step, snap.Counts.Total(), snap.Counts)
}

func printScenarios(w io.Writer, scenarios []experiment.Scenario, steps bool) {
	for _, sc := range scenarios {
		bold.Fprintf(w, "%s", sc.Name)
		fmt.Fprintf(w, "\t%s\n", sc.Description)
		if !steps {
			continue
		}
		for i, step := range sc.Steps {
			fmt.Fprintf(w, "\t%2d. %s\n", i+1, step)
		}
	}
}
