package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/message"
	"weather-alert-bridge/service/model"
	"weather-alert-bridge/service/notify"
	"weather-alert-bridge/service/state"
)

// Region is one configured administrative region.
type Region struct {
	Code string
	Name string
}

// WeatherFetcher is the subset of weather.Client the orchestrator needs,
// expressed as an explicit interface per spec §9's duck-typed protocol
// boundaries. A fresh instance for bounded-parallel fetch workers comes
// from the newWorker factory passed to NewOrchestrator, not from a method
// on this interface, since weather.Client.NewWorkerClient returns the
// concrete *Client rather than this interface.
type WeatherFetcher interface {
	Fetch(ctx context.Context, areaCode, areaName, fromDate, toDate string) ([]model.WarningEvent, error)
	Close()
}

// Options configures one Orchestrator.
type Options struct {
	Regions             []Region
	MaxWorkers          int
	AreaIntervalSec     time.Duration
	MaxAttemptsPerCycle int
	DryRun              bool
}

// Orchestrator executes one reconciliation cycle at a time (C9). It keeps
// the round-robin region-rotation cursor across calls to Run, per spec
// §4.5's fairness requirement.
type Orchestrator struct {
	opts      Options
	client    WeatherFetcher
	newWorker func() WeatherFetcher
	store     state.Store
	builder   *message.Builder
	notifier  *notify.Notifier
	clk       clock.Clock

	mu            sync.Mutex
	rotationIndex int
}

// NewOrchestrator builds one Orchestrator. newWorker may be nil when
// MaxWorkers <= 1, since sequential fetch never needs extra instances.
func NewOrchestrator(opts Options, client WeatherFetcher, newWorker func() WeatherFetcher, store state.Store, builder *message.Builder, notifier *notify.Notifier, clk clock.Clock) *Orchestrator {
	return &Orchestrator{opts: opts, client: client, newWorker: newWorker, store: store, builder: builder, notifier: notifier, clk: clk}
}

// Run executes one cycle over [fromDate, toDate] (format YYYYMMDD).
func (o *Orchestrator) Run(ctx context.Context, fromDate, toDate string) (*Report, error) {
	report := newReport(len(o.opts.Regions))

	fetched, fetchErr := o.fetchPhase(ctx, fromDate, toDate, report)
	if fetchErr != nil {
		return report, fetchErr
	}

	if err := o.trackPhase(fetched, report); err != nil {
		return report, err
	}

	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	if err := o.dispatchPhase(ctx, report); err != nil {
		return report, err
	}

	if err := o.settlePhase(report); err != nil {
		return report, err
	}

	logger.Event("cycle.complete",
		"regions_total", report.RegionsTotal, "regions_failed", report.RegionsFailed,
		"fetch_calls", report.FetchCalls, "alerts_fetched", report.AlertsFetched,
		"attempts", report.Attempts, "sent", report.Sent, "failed", report.Failed,
		"dry_run_skips", report.DryRunSkips, "backpressure_skips", report.BackpressureSkips,
		"pending_total", report.PendingTotal)
	return report, nil
}

// fetchPhase is Phase 1 (spec §4.5).
func (o *Orchestrator) fetchPhase(ctx context.Context, fromDate, toDate string, report *Report) ([]model.WarningEvent, error) {
	report.RegionsTotal = len(o.opts.Regions)

	if o.opts.MaxWorkers > 1 && o.newWorker != nil {
		logger.Event("cycle.parallel_fetch", "max_workers", o.opts.MaxWorkers)
		if o.opts.AreaIntervalSec > 0 {
			logger.Event("cycle.area_interval_ignored", "area_interval_sec", o.opts.AreaIntervalSec.Seconds())
		}
		return o.fetchParallel(ctx, fromDate, toDate, report), nil
	}
	return o.fetchSequential(ctx, fromDate, toDate, report), nil
}

func (o *Orchestrator) fetchSequential(ctx context.Context, fromDate, toDate string, report *Report) []model.WarningEvent {
	var all []model.WarningEvent
	for i, region := range o.opts.Regions {
		logger.Event("area.start", "area_code", region.Code)
		events, err := o.client.Fetch(ctx, region.Code, region.Name, fromDate, toDate)
		report.FetchCalls++
		o.recordFetchResult(report, region, events, err)
		all = append(all, events...)

		if i < len(o.opts.Regions)-1 && o.opts.AreaIntervalSec > 0 {
			if sleepErr := o.clk.Sleep(ctx, o.opts.AreaIntervalSec); sleepErr != nil {
				return all
			}
		}
	}
	return all
}

func (o *Orchestrator) fetchParallel(ctx context.Context, fromDate, toDate string, report *Report) []model.WarningEvent {
	type result struct {
		region Region
		events []model.WarningEvent
		err    error
	}

	jobs := make(chan Region)
	results := make(chan result, len(o.opts.Regions))
	var wg sync.WaitGroup

	workers := o.opts.MaxWorkers
	if workers > len(o.opts.Regions) {
		workers = len(o.opts.Regions)
	}
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		worker := o.newWorker()
		go func(c WeatherFetcher) {
			defer wg.Done()
			defer c.Close()
			for region := range jobs {
				logger.Event("area.start", "area_code", region.Code)
				events, err := c.Fetch(ctx, region.Code, region.Name, fromDate, toDate)
				results <- result{region: region, events: events, err: err}
			}
		}(worker)
	}

	go func() {
		for _, region := range o.opts.Regions {
			jobs <- region
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	byRegion := make(map[string]result, len(o.opts.Regions))
	for res := range results {
		byRegion[res.region.Code] = res
	}

	// Reconcile against the configured region set rather than trusting the
	// results channel to have produced one entry per region: a region with
	// no result is a missing_area_fetch_result failure, not a silent drop.
	var all []model.WarningEvent
	for _, region := range o.opts.Regions {
		res, ok := byRegion[region.Code]
		if !ok {
			err := apperr.New(apperr.KindMissingAreaFetch,
				fmt.Sprintf("no parallel fetch result for region %s", region.Code), nil)
			o.recordFetchResult(report, region, nil, err)
			continue
		}
		report.FetchCalls++
		o.recordFetchResult(report, region, res.events, res.err)
		all = append(all, res.events...)
	}
	return all
}

func (o *Orchestrator) recordFetchResult(report *Report, region Region, events []model.WarningEvent, err error) {
	if err != nil {
		report.RegionsFailed++
		report.recordError(string(apperr.KindOf(err)))
		report.PerRegion[region.Code] = RegionCounts{Failed: true}
		logger.EventAt(warnLevel, "area.failed", "area_code", region.Code, "error_code", apperr.KindOf(err))
		return
	}
	report.AlertsFetched += len(events)
	report.PerRegion[region.Code] = RegionCounts{Fetched: len(events)}
}

// trackPhase is Phase 2 (spec §4.5).
func (o *Orchestrator) trackPhase(events []model.WarningEvent, report *Report) error {
	if len(events) == 0 {
		return nil
	}
	return o.store.Upsert(events, o.clk.Now())
}

// dispatchPhase is Phase 3 (spec §4.5): send pending events up to the
// per-cycle attempt budget, rotating the starting region for fairness.
func (o *Orchestrator) dispatchPhase(ctx context.Context, report *Report) error {
	pending, err := o.store.ListPending()
	if err != nil {
		return err
	}

	grouped := groupByRegion(pending)
	order := o.rotatedRegionOrder(grouped)

	budget := o.opts.MaxAttemptsPerCycle
	var sentIDs []string
	skippedByRegion := map[string]int{}

	for _, regionCode := range order {
		for _, rec := range grouped[regionCode] {
			if budget <= 0 {
				skippedByRegion[regionCode]++
				continue
			}
			budget--
			report.Attempts++

			payload := o.builder.BuildAlertPayload(rec.Payload)
			if o.opts.DryRun {
				logger.Event("notification.dry_run", "event_id", rec.EventID)
				report.DryRunSkips++
				continue
			}

			if err := o.notifier.Send(ctx, payload); err != nil {
				report.Failed++
				continue
			}
			report.Sent++
			sentIDs = append(sentIDs, rec.EventID)
		}
	}

	for region, count := range skippedByRegion {
		if count > 0 {
			logger.Event("notification.backpressure.applied", "region_code", region, "skipped", count)
			report.BackpressureSkips += count
		}
	}

	if len(sentIDs) > 0 {
		if err := o.store.MarkSent(sentIDs, o.clk.Now()); err != nil {
			return err
		}
	}
	return nil
}

// settlePhase is Phase 4 (spec §4.5): emits cycle.cost.metrics and fills
// PendingTotal.
func (o *Orchestrator) settlePhase(report *Report) error {
	pending, err := o.store.CountPending()
	if err != nil {
		return err
	}
	report.PendingTotal = pending
	logger.Event("cycle.cost.metrics",
		"fetch_calls", report.FetchCalls, "alerts_fetched", report.AlertsFetched,
		"attempts", report.Attempts, "sent", report.Sent, "failed", report.Failed,
		"dry_run_skips", report.DryRunSkips, "backpressure_skips", report.BackpressureSkips,
		"pending_total", report.PendingTotal)
	return nil
}

func groupByRegion(records []model.TrackedRecord) map[string][]model.TrackedRecord {
	out := map[string][]model.TrackedRecord{}
	for _, r := range records {
		out[r.Payload.RegionCode] = append(out[r.Payload.RegionCode], r)
	}
	return out
}

// rotatedRegionOrder returns the configured region codes that have
// pending work, starting from the cursor left by the previous cycle and
// advancing it for next time (spec §4.5 fairness requirement).
func (o *Orchestrator) rotatedRegionOrder(grouped map[string][]model.TrackedRecord) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	codes := make([]string, 0, len(o.opts.Regions))
	for _, r := range o.opts.Regions {
		if _, ok := grouped[r.Code]; ok {
			codes = append(codes, r.Code)
		}
	}
	if len(codes) == 0 {
		return nil
	}

	start := o.rotationIndex % len(codes)
	ordered := append(append([]string{}, codes[start:]...), codes[:start]...)
	o.rotationIndex = (o.rotationIndex + 1) % len(o.opts.Regions)
	return ordered
}
