package config

import (
	"strings"
	"time"

	"shipbot/internal/cadence"
	"shipbot/internal/publisher"
	"shipbot/internal/scheduler"
)

const (
	DefaultStorageDriver = "sqlite"
	DefaultStoragePath   = "./data/shipbot.db"
	DefaultOpsAddr       = "127.0.0.1:9090"
	DefaultPollTimeout   = 10 * time.Second
	DefaultSendTimeout   = 15 * time.Second
)

// ApplyDefaults fills omitted fields in place. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}

	s := &cfg.Storage
	if strings.TrimSpace(s.Driver) == "" {
		s.Driver = DefaultStorageDriver
	}
	if isSQLite(s.Driver) && strings.TrimSpace(s.Path) == "" {
		s.Path = DefaultStoragePath
	}

	sc := &cfg.Scheduler
	if strings.TrimSpace(sc.Tick) == "" {
		sc.Tick = scheduler.DefaultTick.String()
	}
	if strings.TrimSpace(sc.DayStart) == "" {
		sc.DayStart = cadence.DefaultDayStart
	}
	if strings.TrimSpace(sc.DayEnd) == "" {
		sc.DayEnd = cadence.DefaultDayEnd
	}
	if sc.SlotsPerDay == 0 {
		sc.SlotsPerDay = cadence.DefaultSlotsPerDay
	}
	if sc.LookaheadDays == 0 {
		sc.LookaheadDays = scheduler.DefaultLookaheadDays
	}

	if cfg.Publisher.CaptionLimit == 0 {
		cfg.Publisher.CaptionLimit = publisher.DefaultCaptionLimit
	}
	if cfg.Publisher.RatePerMinute == 0 {
		cfg.Publisher.RatePerMinute = publisher.DefaultRatePerMinute
	}

	if cfg.Ops.Enabled && strings.TrimSpace(cfg.Ops.Addr) == "" {
		cfg.Ops.Addr = DefaultOpsAddr
	}
}

func isSQLite(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func isPostgres(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return true
	}
	return false
}

// LoadLocation resolves the scheduler timezone. Empty means time.Local.
func (s SchedulerConfig) LoadLocation() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
