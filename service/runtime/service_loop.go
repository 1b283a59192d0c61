// Package runtime wires the components (WeatherClient, StateStore,
// HealthMonitor, MessageBuilder, Notifier, CycleOrchestrator) into one
// running process and implements the ServiceLoop driver (C10). Grounded
// on the teacher's service/monitoring MonitorService for the
// start/stop/signal lifecycle shape, generalized from a ticker-driven
// monitoring loop to a health-adjusted cycle loop.
package runtime

import (
	"context"
	"log/slog"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/config"
	"weather-alert-bridge/service/cycle"
	"weather-alert-bridge/service/health"
	"weather-alert-bridge/service/message"
	"weather-alert-bridge/service/model"
	"weather-alert-bridge/service/notify"
	"weather-alert-bridge/service/ratelimiter"
	"weather-alert-bridge/service/redact"
	"weather-alert-bridge/service/state"
	"weather-alert-bridge/service/weather"
)

const (
	warnLevel = slog.LevelWarn
	errLevel  = slog.LevelError
)

// App holds every long-lived component the ServiceLoop drives. Building
// it is the frozen-config-to-running-process wiring step; nothing here
// is mutated after NewApp returns except through the components'
// documented internal state (StateStore rows, HealthState).
type App struct {
	cfg *config.Config
	clk clock.Clock

	weatherClient *weather.Client
	notifier      *notify.Notifier
	store         state.Store
	healthStore   *health.Store
	monitor       *health.Monitor
	builder       *message.Builder
	orchestrator  *cycle.Orchestrator
}

// NewApp constructs every component from cfg, opening the selected state
// backend and failing fast (config_error) if it cannot.
func NewApp(cfg *config.Config, clk clock.Clock) (*App, error) {
	apiLimiter := ratelimiter.New(cfg.APIRatePerSec)
	webhookLimiter := ratelimiter.New(cfg.WebhookRatePerSec)
	redactor := redact.New(cfg.ServiceAPIKey, cfg.WebhookURL)

	weatherClient := weather.New(weather.Options{
		BaseURL:        cfg.WeatherAPIBaseURL,
		ServiceAPIKey:  cfg.ServiceAPIKey,
		ConnectTimeout: time.Duration(cfg.APIConnectTimeoutSec) * time.Second,
		ReadTimeout:    time.Duration(cfg.APIReadTimeoutSec) * time.Second,
		MaxRetries:     cfg.APIMaxRetries,
		RetryBaseDelay: time.Duration(cfg.APIRetryDelaySec) * time.Second,
	}, apiLimiter, clk)

	notifier := notify.New(notify.Options{
		WebhookURL:          cfg.WebhookURL,
		ConnectTimeout:      time.Duration(cfg.WebhookConnectTimeoutSec) * time.Second,
		ReadTimeout:         time.Duration(cfg.WebhookReadTimeoutSec) * time.Second,
		MaxRetries:          cfg.WebhookMaxRetries,
		RetryBaseDelay:      time.Duration(cfg.WebhookRetryDelaySec) * time.Second,
		CircuitEnabled:      cfg.Circuit.Enabled,
		CircuitThreshold:    cfg.Circuit.ConsecutiveFailures,
		CircuitOpenDuration: time.Duration(cfg.Circuit.OpenDurationSec) * time.Second,
	}, webhookLimiter, clk, redactor)

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	healthStore := health.NewStore(cfg.HealthStatePath)
	monitor := health.NewMonitor(model.HealthPolicy{
		OutageWindowSec:              cfg.Health.OutageWindowSec,
		OutageMinFailedCycles:        cfg.Health.OutageMinFailedCycles,
		OutageConsecutiveFailures:    cfg.Health.OutageConsecutiveFailures,
		OutageFailRatioThreshold:     cfg.Health.OutageFailRatioThreshold,
		RecoveryWindowSec:            cfg.Health.RecoveryWindowSec,
		RecoveryMaxFailRatio:         cfg.Health.RecoveryMaxFailRatio,
		RecoveryConsecutiveSuccesses: cfg.Health.RecoveryConsecutiveSuccesses,
		HeartbeatIntervalSec:         cfg.Health.HeartbeatIntervalSec,
		BaseIntervalSec:              cfg.CycleIntervalSec,
		MaxBackoffSec:                cfg.Health.MaxBackoffSec,
		BackfillWindowDays:           cfg.Health.BackfillWindowDays,
		RecoveryBackfillMaxDays:      cfg.Health.RecoveryBackfillMaxDays,
		MaxWindowsPerCycle:           cfg.Health.MaxWindowsPerCycle,
	})

	builder := message.NewBuilder(cfg.BotName, message.DefaultRules)

	regions := make([]cycle.Region, 0, len(cfg.RegionCodes))
	for _, code := range cfg.RegionCodes {
		regions = append(regions, cycle.Region{Code: code, Name: cfg.RegionNames[code]})
	}

	var newWorker func() cycle.WeatherFetcher
	if cfg.MaxWorkers > 1 {
		newWorker = func() cycle.WeatherFetcher { return weatherClient.NewWorkerClient() }
	}

	orchestrator := cycle.NewOrchestrator(cycle.Options{
		Regions:             regions,
		MaxWorkers:          cfg.MaxWorkers,
		AreaIntervalSec:     time.Duration(cfg.AreaIntervalSec) * time.Second,
		MaxAttemptsPerCycle: cfg.MaxAttemptsPerCycle,
		DryRun:              cfg.DryRun,
	}, weatherClient, newWorker, store, builder, notifier, clk)

	return &App{
		cfg: cfg, clk: clk,
		weatherClient: weatherClient,
		notifier:      notifier,
		store:         store,
		healthStore:   healthStore,
		monitor:       monitor,
		builder:       builder,
		orchestrator:  orchestrator,
	}, nil
}

func openStore(cfg *config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case "sqlite":
		return state.OpenSQLiteStore(cfg.StateDBPath)
	default:
		return state.OpenFileStore(cfg.StateFilePath)
	}
}

// Close releases every component's held resources (connections, open
// files), matching spec §4.6's shutdown ordering: Notifier, WeatherClient,
// then state stores.
func (a *App) Close() {
	a.notifier.Close()
	a.weatherClient.Close()
	if err := a.store.Close(); err != nil {
		logger.EventAt(warnLevel, "shutdown.unexpected_error", "component", "state_store", "error", err.Error())
	}
}

// ServiceLoop drives cycles at the health-monitor-adjusted interval,
// handles graceful shutdown, and runs the daily automatic cleanup (C10).
type ServiceLoop struct {
	app *App
	cfg *config.Config
}

func NewServiceLoop(app *App, cfg *config.Config) *ServiceLoop {
	return &ServiceLoop{app: app, cfg: cfg}
}

// Run executes the service until ctx is cancelled, a fatal error occurs,
// or RunOnce completes its single cycle. It returns a non-nil error only
// for conditions the caller (main) should map to a non-zero exit status.
func (l *ServiceLoop) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthState, err := l.app.healthStore.Load()
	if err != nil {
		return err
	}

	cleanupTicker := l.startDailyCleanup()
	defer cleanupTicker.Stop()

	logger.Event("startup.ready", "regions", len(l.cfg.RegionCodes), "run_once", l.cfg.RunOnce)

	for {
		if ctx.Err() != nil {
			logger.Event("shutdown.interrupt")
			break
		}

		healthState, err = l.runOneIteration(ctx, healthState)
		if err != nil {
			if apperr.Fatal(err) {
				logger.EventAt(errLevel, "cycle.fatal_error", "error", err.Error())
				l.shutdown()
				return err
			}
			logger.EventAt(warnLevel, "cycle.iteration.failed", "error", err.Error())
		}

		if l.cfg.RunOnce {
			logger.Event("shutdown.run_once_complete")
			break
		}

		interval := time.Duration(healthState.SuggestedIntervalSec) * time.Second
		if interval != time.Duration(l.cfg.CycleIntervalSec)*time.Second {
			logger.Event("cycle.interval.adjusted", "interval_sec", healthState.SuggestedIntervalSec)
		}
		if sleepErr := l.app.clk.Sleep(ctx, interval); sleepErr != nil {
			logger.Event("shutdown.interrupt")
			break
		}
	}

	l.shutdown()
	return nil
}

// runOneIteration runs one cycle, folds its outcome into HealthMonitor,
// reacts to any transition, and persists the updated HealthState.
func (l *ServiceLoop) runOneIteration(ctx context.Context, healthState model.HealthState) (model.HealthState, error) {
	from, to := l.dateWindow()
	logger.Event("cycle.start", "from_date", from, "to_date", to)

	report, err := l.app.orchestrator.Run(ctx, from, to)
	if err != nil && apperr.Fatal(err) {
		return healthState, err
	}

	healthState = l.observeHealth(ctx, healthState, report)

	if err != nil {
		return healthState, err
	}
	return healthState, nil
}

func (l *ServiceLoop) observeHealth(ctx context.Context, prev model.HealthState, report *cycle.Report) model.HealthState {
	outcome := model.CycleOutcome{
		At:          l.app.clk.Now(),
		FailedAreas: report.RegionsFailed,
		TotalAreas:  report.RegionsTotal,
		ErrorCodes:  sortedKeys(report.ErrorCodeCounts),
	}

	decision := l.app.monitor.Observe(prev, outcome, l.app.clk.Now())
	logger.Event("health.evaluate", "transition", string(decision.Transition),
		"consecutive_severe_failures", decision.State.ConsecutiveSevereFailures,
		"suggested_interval_sec", decision.State.SuggestedIntervalSec)

	if decision.Transition != model.NoTransition {
		l.sendHealthNotification(ctx, decision)
	}

	if len(decision.State.BackfillCursor) > 0 {
		l.runBackfill(ctx, &decision.State)
	}

	if err := l.app.healthStore.Save(decision.State); err != nil {
		logger.EventAt(warnLevel, "shutdown.unexpected_error", "component", "health_store", "error", err.Error())
	}
	return decision.State
}

func (l *ServiceLoop) sendHealthNotification(ctx context.Context, decision model.HealthDecision) {
	payload := l.app.builder.BuildHealthPayload(decision.Transition, l.app.clk.Now(), decision.State.IncidentOpenedAt)
	if err := l.app.notifier.Send(ctx, payload); err != nil {
		logger.EventAt(warnLevel, "health.notification.failed", "transition", string(decision.Transition), "error", err.Error())
		return
	}
	logger.Event("health.notification.sent", "transition", string(decision.Transition))
}

// runBackfill dequeues up to MaxWindowsPerCycle segments and executes each
// as an extra cycle immediately (spec §4.6), mutating state.BackfillCursor
// in place so the caller persists the remainder.
func (l *ServiceLoop) runBackfill(ctx context.Context, st *model.HealthState) {
	taken, remaining := health.DequeueBackfill(st.BackfillCursor, l.app.cfg.Health.MaxWindowsPerCycle)
	st.BackfillCursor = remaining
	if len(taken) == 0 {
		return
	}
	logger.Event("health.backfill.start", "segments", len(taken))
	for _, seg := range taken {
		if ctx.Err() != nil {
			return
		}
		if _, err := l.app.orchestrator.Run(ctx, seg.FromDate, seg.ToDate); err != nil {
			logger.EventAt(warnLevel, "health.backfill.failed", "from_date", seg.FromDate, "to_date", seg.ToDate, "error", err.Error())
			continue
		}
	}
	logger.Event("health.backfill.complete", "segments", len(taken), "remaining", len(remaining))
}

// dateWindow computes [from, to] for the regular cycle, from the
// configured lookback to today.
func (l *ServiceLoop) dateWindow() (string, string) {
	now := l.app.clk.Now()
	from := now.AddDate(0, 0, -l.cfg.LookbackDays)
	return from.Format("20060102"), now.Format("20060102")
}

// startDailyCleanup schedules the automatic retention cleanup at midnight
// local time when enabled (spec §3 "cleanup enabled"), using the same
// cron scheduling library the teacher's sync-task layer relies on.
func (l *ServiceLoop) startDailyCleanup() *cron.Cron {
	c := cron.New()
	if !l.cfg.CleanupEnabled {
		c.Start()
		return c
	}
	_, err := c.AddFunc("0 0 * * *", func() {
		cutoff := l.app.clk.Now().AddDate(0, 0, -l.cfg.CleanupRetentionDays)
		removed, err := l.app.store.CleanupStale(cutoff, l.cfg.CleanupIncludeUnsent)
		if err != nil {
			logger.EventAt(warnLevel, "state.cleanup.failed", "error", err.Error())
			return
		}
		logger.Event("state.cleanup.auto", "removed", removed, "cutoff", cutoff.Format("20060102"))
		logger.Event("state.cleanup.complete", "removed", removed)
	})
	if err != nil {
		logger.EventAt(warnLevel, "shutdown.unexpected_error", "component", "cleanup_scheduler", "error", err.Error())
	}
	c.Start()
	return c
}

// shutdown closes every component, forcing progress after the configured
// grace period elapses (spec §4.6).
func (l *ServiceLoop) shutdown() {
	done := make(chan struct{})
	go func() {
		l.app.Close()
		close(done)
	}()

	grace := time.Duration(l.cfg.ShutdownGraceSec) * time.Second
	select {
	case <-done:
	case <-time.After(grace):
		logger.EventAt(warnLevel, "shutdown.forced", "grace_sec", l.cfg.ShutdownGraceSec)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
