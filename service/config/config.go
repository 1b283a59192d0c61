// Package config loads the frozen runtime configuration once at startup
// (spec §9 "Frozen-config plus derived state") via viper env binding with
// an optional YAML overlay, matching the teacher's layered-config
// convention. Nothing in this package is mutated after Load returns.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"weather-alert-bridge/service/apperr"
)

// HealthThresholds mirrors model.HealthPolicy but lives in config as the
// raw, validated values loaded from the environment.
type HealthThresholds struct {
	OutageWindowSec           int
	OutageMinFailedCycles     int
	OutageConsecutiveFailures int
	OutageFailRatioThreshold  float64
	RecoveryWindowSec         int
	RecoveryMaxFailRatio      float64
	RecoveryConsecutiveSuccesses int
	HeartbeatIntervalSec      int
	MaxBackoffSec             int
	BackfillWindowDays        int
	RecoveryBackfillMaxDays   int
	MaxWindowsPerCycle        int
}

// CircuitBreaker mirrors spec §3's notifier circuit-breaker config.
type CircuitBreaker struct {
	Enabled             bool
	ConsecutiveFailures int
	OpenDurationSec     int
}

// Config is the complete, immutable runtime configuration (spec §3).
type Config struct {
	WeatherAPIBaseURL     string
	WeatherAPIAllowedHost string
	WebhookURL            string
	ServiceAPIKey         string

	RegionCodes   []string
	RegionNames   map[string]string

	LookbackDays int
	CycleIntervalSec int
	AreaIntervalSec  int
	MaxWorkers       int

	APIConnectTimeoutSec int
	APIReadTimeoutSec    int
	WebhookConnectTimeoutSec int
	WebhookReadTimeoutSec    int

	APIMaxRetries    int
	APIRetryDelaySec int
	WebhookMaxRetries    int
	WebhookRetryDelaySec int

	APIRatePerSec     float64
	WebhookRatePerSec float64

	Circuit CircuitBreaker

	MaxAttemptsPerCycle int

	CleanupRetentionDays int
	CleanupIncludeUnsent bool
	CleanupEnabled       bool

	StateBackend     string // "file" or "sqlite"
	StateFilePath    string
	StateDBPath      string
	HealthStatePath  string

	Health HealthThresholds

	ShutdownGraceSec int
	BotName          string
	LogLevel         string
	DryRun           bool
	RunOnce          bool
}

// Load reads configuration from the environment (and an optional YAML
// overlay at configFile, when non-empty), validates it, and returns an
// immutable Config. Any validation failure is an *apperr.Error of kind
// config_error, matching CLI exit code 2 (spec §6).
func Load(configFile string) (*Config, error) {
	// .env is optional; a missing file is not an error, matching the
	// original deployment's convenience-loading behavior.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.New(apperr.KindConfig, "reading config file", err)
		}
	}

	setDefaults(v)

	cfg := &Config{
		WeatherAPIBaseURL:     v.GetString("WEATHER_ALERT_DATA_API_URL"),
		WeatherAPIAllowedHost: v.GetString("WEATHER_API_ALLOWED_HOST"),
		WebhookURL:            v.GetString("SERVICE_HOOK_URL"),
		ServiceAPIKey:         v.GetString("SERVICE_API_KEY"),

		RegionCodes: splitCSV(v.GetString("AREA_CODES")),
		RegionNames: parseMapping(v.GetString("AREA_CODE_MAPPING")),

		LookbackDays:     v.GetInt("LOOKBACK_DAYS"),
		CycleIntervalSec: v.GetInt("CYCLE_INTERVAL_SEC"),
		AreaIntervalSec:  v.GetInt("AREA_INTERVAL_SEC"),
		MaxWorkers:       v.GetInt("AREA_MAX_WORKERS"),

		APIConnectTimeoutSec:     v.GetInt("REQUEST_CONNECT_TIMEOUT_SEC"),
		APIReadTimeoutSec:        v.GetInt("REQUEST_READ_TIMEOUT_SEC"),
		WebhookConnectTimeoutSec: v.GetInt("NOTIFIER_CONNECT_TIMEOUT_SEC"),
		WebhookReadTimeoutSec:    v.GetInt("NOTIFIER_READ_TIMEOUT_SEC"),

		APIMaxRetries:        v.GetInt("MAX_RETRIES"),
		APIRetryDelaySec:     v.GetInt("RETRY_DELAY_SEC"),
		WebhookMaxRetries:    v.GetInt("NOTIFIER_MAX_RETRIES"),
		WebhookRetryDelaySec: v.GetInt("NOTIFIER_RETRY_DELAY_SEC"),

		APIRatePerSec:     cast.ToFloat64(v.Get("API_RATE_LIMIT_PER_SEC")),
		WebhookRatePerSec: cast.ToFloat64(v.Get("WEBHOOK_RATE_LIMIT_PER_SEC")),

		Circuit: CircuitBreaker{
			Enabled:             v.GetBool("CIRCUIT_BREAKER_ENABLED"),
			ConsecutiveFailures: v.GetInt("CIRCUIT_BREAKER_CONSECUTIVE_FAILURES"),
			OpenDurationSec:     v.GetInt("CIRCUIT_BREAKER_OPEN_SEC"),
		},

		MaxAttemptsPerCycle: v.GetInt("MAX_ATTEMPTS_PER_CYCLE"),

		CleanupRetentionDays: v.GetInt("CLEANUP_RETENTION_DAYS"),
		CleanupIncludeUnsent: v.GetBool("CLEANUP_INCLUDE_UNSENT"),
		CleanupEnabled:       v.GetBool("CLEANUP_ENABLED"),

		StateBackend:    strings.ToLower(v.GetString("STATE_REPOSITORY_TYPE")),
		StateFilePath:   v.GetString("SENT_MESSAGES_FILE"),
		StateDBPath:     v.GetString("STATE_SQLITE_FILE"),
		HealthStatePath: v.GetString("HEALTH_STATE_FILE"),

		Health: HealthThresholds{
			OutageWindowSec:              v.GetInt("OUTAGE_WINDOW_SEC"),
			OutageMinFailedCycles:        v.GetInt("OUTAGE_MIN_FAILED_CYCLES"),
			OutageConsecutiveFailures:    v.GetInt("OUTAGE_CONSECUTIVE_FAILURES"),
			OutageFailRatioThreshold:     cast.ToFloat64(v.Get("OUTAGE_FAIL_RATIO_THRESHOLD")),
			RecoveryWindowSec:            v.GetInt("RECOVERY_WINDOW_SEC"),
			RecoveryMaxFailRatio:         cast.ToFloat64(v.Get("RECOVERY_MAX_FAIL_RATIO")),
			RecoveryConsecutiveSuccesses: v.GetInt("RECOVERY_CONSECUTIVE_SUCCESSES"),
			HeartbeatIntervalSec:         v.GetInt("HEARTBEAT_INTERVAL_SEC"),
			MaxBackoffSec:                v.GetInt("HEALTH_MAX_BACKOFF_SEC"),
			BackfillWindowDays:           v.GetInt("BACKFILL_WINDOW_DAYS"),
			RecoveryBackfillMaxDays:      v.GetInt("RECOVERY_BACKFILL_MAX_DAYS"),
			MaxWindowsPerCycle:           v.GetInt("MAX_WINDOWS_PER_CYCLE"),
		},

		ShutdownGraceSec: v.GetInt("SHUTDOWN_GRACE_SEC"),
		BotName:          v.GetString("BOT_NAME"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		DryRun:           v.GetBool("DRY_RUN"),
		RunOnce:          v.GetBool("RUN_ONCE"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("WEATHER_ALERT_DATA_API_URL", "http://apis.data.go.kr/1360000/WthrWrnInfoService/getPwnCd")
	v.SetDefault("WEATHER_API_ALLOWED_HOST", "apis.data.go.kr")
	v.SetDefault("AREA_MAX_WORKERS", 1)
	v.SetDefault("LOOKBACK_DAYS", 0)
	v.SetDefault("CYCLE_INTERVAL_SEC", 10)
	v.SetDefault("AREA_INTERVAL_SEC", 5)
	v.SetDefault("REQUEST_CONNECT_TIMEOUT_SEC", 5)
	v.SetDefault("REQUEST_READ_TIMEOUT_SEC", 5)
	v.SetDefault("NOTIFIER_CONNECT_TIMEOUT_SEC", 5)
	v.SetDefault("NOTIFIER_READ_TIMEOUT_SEC", 5)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_DELAY_SEC", 5)
	v.SetDefault("NOTIFIER_MAX_RETRIES", 3)
	v.SetDefault("NOTIFIER_RETRY_DELAY_SEC", 1)
	v.SetDefault("API_RATE_LIMIT_PER_SEC", 5)
	v.SetDefault("WEBHOOK_RATE_LIMIT_PER_SEC", 1)
	v.SetDefault("CIRCUIT_BREAKER_ENABLED", true)
	v.SetDefault("CIRCUIT_BREAKER_CONSECUTIVE_FAILURES", 5)
	v.SetDefault("CIRCUIT_BREAKER_OPEN_SEC", 60)
	v.SetDefault("MAX_ATTEMPTS_PER_CYCLE", 20)
	v.SetDefault("CLEANUP_RETENTION_DAYS", 30)
	v.SetDefault("CLEANUP_INCLUDE_UNSENT", false)
	v.SetDefault("CLEANUP_ENABLED", true)
	v.SetDefault("STATE_REPOSITORY_TYPE", "file")
	v.SetDefault("SENT_MESSAGES_FILE", "./data/sent_messages.json")
	v.SetDefault("STATE_SQLITE_FILE", "./data/state.db")
	v.SetDefault("HEALTH_STATE_FILE", "./data/health_state.json")
	v.SetDefault("OUTAGE_WINDOW_SEC", 600)
	v.SetDefault("OUTAGE_MIN_FAILED_CYCLES", 6)
	v.SetDefault("OUTAGE_CONSECUTIVE_FAILURES", 4)
	v.SetDefault("OUTAGE_FAIL_RATIO_THRESHOLD", 1.0)
	v.SetDefault("RECOVERY_WINDOW_SEC", 600)
	v.SetDefault("RECOVERY_MAX_FAIL_RATIO", 0.0)
	v.SetDefault("RECOVERY_CONSECUTIVE_SUCCESSES", 8)
	v.SetDefault("HEARTBEAT_INTERVAL_SEC", 1800)
	v.SetDefault("HEALTH_MAX_BACKOFF_SEC", 300)
	v.SetDefault("BACKFILL_WINDOW_DAYS", 1)
	v.SetDefault("RECOVERY_BACKFILL_MAX_DAYS", 7)
	v.SetDefault("MAX_WINDOWS_PER_CYCLE", 1)
	v.SetDefault("SHUTDOWN_GRACE_SEC", 30)
	v.SetDefault("BOT_NAME", "기상특보알림")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DRY_RUN", false)
	v.SetDefault("RUN_ONCE", false)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMapping(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.ServiceAPIKey == "" {
		return apperr.New(apperr.KindConfig, "SERVICE_API_KEY is required", nil)
	}
	if strings.Contains(cfg.ServiceAPIKey, "%") {
		return apperr.New(apperr.KindConfig, "SERVICE_API_KEY must not be pre-encoded", nil)
	}
	if cfg.WebhookURL == "" {
		return apperr.New(apperr.KindConfig, "SERVICE_HOOK_URL is required", nil)
	}
	webhook, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return apperr.New(apperr.KindConfig, "SERVICE_HOOK_URL is not a valid URL", err)
	}
	if webhook.Scheme != "https" {
		return apperr.New(apperr.KindConfig, "SERVICE_HOOK_URL must use https", nil)
	}
	if len(cfg.RegionCodes) == 0 {
		return apperr.New(apperr.KindConfig, "AREA_CODES must include at least one region", nil)
	}
	apiURL, err := url.Parse(cfg.WeatherAPIBaseURL)
	if err != nil {
		return apperr.New(apperr.KindConfig, "WEATHER_ALERT_DATA_API_URL is not a valid URL", err)
	}
	if cfg.WeatherAPIAllowedHost != "" && !strings.EqualFold(apiURL.Hostname(), cfg.WeatherAPIAllowedHost) {
		return apperr.New(apperr.KindConfig, fmt.Sprintf(
			"WEATHER_ALERT_DATA_API_URL host %q is not in the allowlist (%q)",
			apiURL.Hostname(), cfg.WeatherAPIAllowedHost), nil)
	}
	if apiURL.Scheme != "https" && apiURL.Scheme != "http" {
		return apperr.New(apperr.KindConfig, "WEATHER_ALERT_DATA_API_URL has an unsupported scheme", nil)
	}
	if cfg.StateBackend != "file" && cfg.StateBackend != "sqlite" {
		return apperr.New(apperr.KindConfig, "STATE_REPOSITORY_TYPE must be \"file\" or \"sqlite\"", nil)
	}
	if cfg.MaxWorkers < 1 {
		return apperr.New(apperr.KindConfig, "AREA_MAX_WORKERS must be >= 1", nil)
	}
	return nil
}
