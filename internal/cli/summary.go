package cli

import (
	"strconv"

	"github.com/fpang/recording-splitter/internal/split"
)

var workerHeaders = []string{"Worker", "Fragments", "Frames", "Markers", "Dropped", "Clips", "Discarded", "Outcome"}

var workerAligns = []ColumnAlignment{AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignLeft}

// WorkerTable renders one row per worker plus a totals row.
func WorkerTable(workers []split.WorkerReport) string {
	rows := make([][]string, 0, len(workers)+1)
	var total split.Stats
	for _, w := range workers {
		total.Add(w.Stats)
		rows = append(rows, statsRow(w.Name, w.Stats, outcome(w)))
	}
	if len(workers) > 1 {
		rows = append(rows, statsRow("total", total, ""))
	}
	return RenderTable(workerHeaders, rows, workerAligns)
}

// StatsTable renders the stats of a single sequential run.
func StatsTable(name string, stats split.Stats, err error) string {
	return WorkerTable([]split.WorkerReport{{Name: name, Stats: stats, Err: err}})
}

func statsRow(name string, s split.Stats, outcome string) []string {
	return []string{
		name,
		strconv.Itoa(s.Fragments),
		strconv.Itoa(s.Frames),
		strconv.Itoa(s.Markers),
		strconv.Itoa(s.Dropped),
		strconv.Itoa(s.ClipsClosed),
		strconv.Itoa(s.Discarded),
		outcome,
	}
}

func outcome(w split.WorkerReport) string {
	switch {
	case w.Err != nil:
		return "failed"
	case w.Ceded:
		return "ceded"
	default:
		return "done"
	}
}
