// Package cycle implements the CycleOrchestrator (C9): fetch -> track ->
// dispatch -> settle, plus the CycleReport rollup that phase emits.
// Grounded on the teacher's metrics_collector.go for the
// aggregate-then-emit shape, generalized from system/datasource metrics
// to the per-region counters spec §4.5 names.
package cycle

import "log/slog"

const warnLevel = slog.LevelWarn

// Report aggregates one cycle's outcome (spec §4.5).
type Report struct {
	RegionsTotal  int
	RegionsFailed int

	FetchCalls    int
	AlertsFetched int

	Attempts         int
	Sent             int
	Failed           int
	DryRunSkips      int
	BackpressureSkips int

	PendingTotal int

	ErrorCodeCounts map[string]int

	PerRegion map[string]RegionCounts
}

// RegionCounts is the per-region breakdown inside a Report.
type RegionCounts struct {
	Fetched int
	Failed  bool
	Sent    int
	Attempts int
}

func newReport(numRegions int) *Report {
	return &Report{
		ErrorCodeCounts: map[string]int{},
		PerRegion:       make(map[string]RegionCounts, numRegions),
	}
}

func (r *Report) recordError(code string) {
	r.ErrorCodeCounts[code]++
}
