package app

import (
	"fmt"
	"strings"
	"time"

	"shipbot/internal/cadence"
	"shipbot/internal/config"
	"shipbot/internal/observability/opshttp"
	"shipbot/internal/publisher"
	"shipbot/internal/scheduler"
	"shipbot/internal/storage"
	"shipbot/internal/transport"
	telegram "shipbot/internal/transport/telegram/adapter"
	logx "shipbot/pkg/logx"
)

// Every map* function expects a config that already passed config.Validate.

func mapLogConfig(cfg *config.Config) logx.Config {
	lg := cfg.Logging
	return logx.Config{
		Level:   lg.Level,
		Console: lg.Console,
		File:    logx.FileConfig{Enabled: lg.File.Enabled, Path: lg.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lg.Telegram.Enabled,
			ThreadID:   lg.Telegram.ThreadID,
			MinLevel:   lg.Telegram.MinLevel,
			RatePerSec: lg.Telegram.RatePerSec,
		},
	}
}

// logTarget returns the operator log chat; zero when group_log is unset.
func logTarget(cfg *config.Config) transport.ChatTarget {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return transport.ChatTarget{}
	}
	t, err := transport.ParseChatTarget(raw)
	if err != nil {
		return transport.ChatTarget{}
	}
	t.ThreadID = cfg.Logging.Telegram.ThreadID
	return t
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
		SendTimeout: cfg.Telegram.SendTimeoutOrDefault(),
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	st := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(st.Driver)),
		Path:        strings.TrimSpace(st.Path),
		DSN:         strings.TrimSpace(st.DSN),
		BusyTimeout: st.BusyTimeoutDuration(),
		MaxConns:    st.MaxConns,
	}
}

func mapCadence(cfg *config.Config) (*cadence.Cadence, error) {
	loc, err := cfg.Scheduler.LoadLocation()
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return cadence.New(cadence.Config{
		DayStart:    cfg.Scheduler.DayStart,
		DayEnd:      cfg.Scheduler.DayEnd,
		SlotsPerDay: cfg.Scheduler.SlotsPerDay,
		Location:    loc,
	})
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loc, err := cfg.Scheduler.LoadLocation()
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return scheduler.Config{
		Enabled:       cfg.Scheduler.IsEnabled(),
		Tick:          cfg.Scheduler.TickOrDefault(scheduler.DefaultTick),
		LookaheadDays: cfg.Scheduler.LookaheadDays,
		Location:      loc,
	}, nil
}

func mapPublisherConfig(cfg *config.Config) (publisher.Config, error) {
	target, err := transport.ParseChatTarget(cfg.Telegram.Channel)
	if err != nil {
		return publisher.Config{}, fmt.Errorf("telegram.channel: %w", err)
	}
	return publisher.Config{
		Target:        target,
		CaptionLimit:  cfg.Publisher.CaptionLimit,
		RatePerMinute: cfg.Publisher.RatePerMinute,
	}, nil
}

func mapOpsConfig(cfg *config.Config) opshttp.Config {
	o := cfg.Ops
	read, write, idle := o.Timeouts()
	return opshttp.Config{
		Enabled:      o.Enabled,
		Addr:         strings.TrimSpace(o.Addr),
		Token:        strings.TrimSpace(o.Token),
		Pprof:        o.Pprof,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
}

// stopTimeout bounds one shutdown step without extending the caller's deadline.
func stopTimeout(parent time.Duration, deadline time.Time, ok bool) time.Duration {
	if !ok {
		return parent
	}
	rem := time.Until(deadline)
	if rem <= 0 {
		return 0
	}
	return min(rem, parent)
}
