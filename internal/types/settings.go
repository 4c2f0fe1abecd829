package types

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	CatalogFileEnvKey     = "CATALOG_FILE"
	HTTPPortEnvKey        = "HTTP_PORT"
	BatchWriteEnvKey      = "BATCH_WRITE_INTERVAL"
	CooldownCheckEnvKey   = "COOLDOWN_CHECK_INTERVAL"
	CacheTTLEnvKey        = "CACHE_TTL"
	PushTickEnvKey        = "PUSH_TICK_MS"
	PurgeInactiveEnvKey   = "PURGE_INACTIVE_DAYS"
	ResetTimezoneEnvKey   = "RESET_TIMEZONE"
	FlushAlarmEnvKey      = "FLUSH_ALARM_THRESHOLD"
	WarmWaitEnvKey        = "WARM_WAIT_MS"
	MinCooldownCheckSecs  = 10
	MaxCooldownCheckSecs  = 3600
	DefaultFlushAlarm     = 3
	DefaultPurgeStartWait = time.Minute
	DefaultPurgeEvery     = 24 * time.Hour
)

// Settings are the process-level knobs of the engine.
// FlushInterval drives the write-back timer, SweepInterval the cooldown sweep,
// ViewerTTL the lifetime of a viewer context, PushTick the debounce window of shared pushes.
// PurgeInactive is the inactivity threshold of the purge sweep, 0 disables it. The purge runs
// PurgeStartWait after start and then every PurgeEvery.
// WarmWait caps how long a decision waits for a pending pre-warm before the cache answers alone.
// Location is the time zone daily and weekly resets are computed in.
type Settings struct {
	CatalogFile    string
	HTTPPort       int
	FlushInterval  time.Duration
	SweepInterval  time.Duration
	ViewerTTL      time.Duration
	PushTick       time.Duration
	PurgeInactive  time.Duration
	PurgeStartWait time.Duration
	PurgeEvery     time.Duration
	FlushAlarm     int
	WarmWait       time.Duration
	Location       *time.Location
}

func DefaultSettings() Settings {
	return Settings{
		CatalogFile:    "trades.yml",
		HTTPPort:       8080,
		FlushInterval:  30 * time.Second,
		SweepInterval:  60 * time.Second,
		ViewerTTL:      10 * time.Second,
		PushTick:       50 * time.Millisecond,
		PurgeStartWait: DefaultPurgeStartWait,
		PurgeEvery:     DefaultPurgeEvery,
		FlushAlarm:     DefaultFlushAlarm,
		WarmWait:       250 * time.Millisecond,
		Location:       time.Local,
	}
}

// SettingsFromEnv reads settings from environment variables on top of the defaults.
// Out-of-range values are reported as warnings; the sweep interval is clamped to its range.
func SettingsFromEnv() (Settings, []string, error) {
	s := DefaultSettings()
	var warnings []string

	s.CatalogFile = getenv(CatalogFileEnvKey, s.CatalogFile)

	port, err := atoiEnv(HTTPPortEnvKey, s.HTTPPort)
	if err != nil {
		return s, nil, err
	}
	s.HTTPPort = port

	batch, err := atoiEnv(BatchWriteEnvKey, int(s.FlushInterval/time.Second))
	if err != nil {
		return s, nil, err
	}
	if batch < 5 || batch > 300 {
		warnings = append(warnings, fmt.Sprintf("%s should be between 5-300 seconds (currently: %d)", BatchWriteEnvKey, batch))
	}
	if batch < 1 {
		batch = 1
	}
	s.FlushInterval = time.Duration(batch) * time.Second

	sweep, err := atoiEnv(CooldownCheckEnvKey, int(s.SweepInterval/time.Second))
	if err != nil {
		return s, nil, err
	}
	if sweep < MinCooldownCheckSecs || sweep > MaxCooldownCheckSecs {
		warnings = append(warnings, fmt.Sprintf("%s should be between %d-%d seconds (currently: %d)",
			CooldownCheckEnvKey, MinCooldownCheckSecs, MaxCooldownCheckSecs, sweep))
		sweep = min(max(sweep, MinCooldownCheckSecs), MaxCooldownCheckSecs)
	}
	s.SweepInterval = time.Duration(sweep) * time.Second

	ttl, err := atoiEnv(CacheTTLEnvKey, int(s.ViewerTTL/time.Second))
	if err != nil {
		return s, nil, err
	}
	if ttl < 5 || ttl > 300 {
		warnings = append(warnings, fmt.Sprintf("%s should be between 5-300 seconds (currently: %d)", CacheTTLEnvKey, ttl))
	}
	if ttl < 1 {
		ttl = 1
	}
	s.ViewerTTL = time.Duration(ttl) * time.Second

	tick, err := atoiEnv(PushTickEnvKey, int(s.PushTick/time.Millisecond))
	if err != nil {
		return s, nil, err
	}
	if tick < 1 {
		tick = 1
	}
	s.PushTick = time.Duration(tick) * time.Millisecond

	days, err := atoiEnv(PurgeInactiveEnvKey, 0)
	if err != nil {
		return s, nil, err
	}
	if days < 0 {
		warnings = append(warnings, fmt.Sprintf("%s must be >= 0 (0 to disable). Currently: %d", PurgeInactiveEnvKey, days))
		days = 0
	}
	s.PurgeInactive = time.Duration(days) * 24 * time.Hour

	alarm, err := atoiEnv(FlushAlarmEnvKey, s.FlushAlarm)
	if err != nil {
		return s, nil, err
	}
	s.FlushAlarm = max(alarm, 1)

	wait, err := atoiEnv(WarmWaitEnvKey, int(s.WarmWait/time.Millisecond))
	if err != nil {
		return s, nil, err
	}
	if wait < 0 {
		warnings = append(warnings, fmt.Sprintf("%s must be >= 0 (currently: %d)", WarmWaitEnvKey, wait))
		wait = 0
	}
	s.WarmWait = time.Duration(wait) * time.Millisecond

	if tz := os.Getenv(ResetTimezoneEnvKey); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return s, nil, fmt.Errorf("invalid %s: %w", ResetTimezoneEnvKey, err)
		}
		s.Location = loc
	}
	return s, warnings, nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
