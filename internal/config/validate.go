package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"shipbot/internal/cadence"
	kit "shipbot/internal/transport"
	logx "shipbot/pkg/logx"
)

// Validate checks a decoded config and reports every problem it finds.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	tg := cfg.Telegram
	if strings.TrimSpace(tg.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	if len(tg.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids must list at least one user"))
	}
	if strings.TrimSpace(tg.Channel) == "" {
		add(errors.New("telegram.channel is required"))
	} else if _, err := kit.ParseChatTarget(tg.Channel); err != nil {
		add(fmt.Errorf("telegram.channel: %w", err))
	}
	if strings.TrimSpace(tg.GroupLog) != "" {
		if _, err := kit.ParseChatTarget(tg.GroupLog); err != nil {
			add(fmt.Errorf("telegram.group_log: %w", err))
		}
	}
	_, err := ParseDurationField("telegram.poll_timeout", tg.PollTimeout)
	add(err)
	_, err = ParseDurationField("telegram.send_timeout", tg.SendTimeout)
	add(err)

	lg := cfg.Logging
	if !logx.ValidLevel(lg.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", lg.Level))
	}
	if lg.Telegram.Enabled && !logx.ValidLevel(lg.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lg.Telegram.MinLevel))
	}
	if lg.File.Enabled && strings.TrimSpace(lg.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	st := cfg.Storage
	switch {
	case isSQLite(st.Driver):
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	case isPostgres(st.Driver):
		if strings.TrimSpace(st.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
		if st.MaxConns < 0 {
			add(errors.New("storage.max_conns must be >= 0"))
		}
	case strings.EqualFold(strings.TrimSpace(st.Driver), "memory"):
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
	}

	add(validateScheduler(cfg.Scheduler))

	if cfg.Publisher.CaptionLimit < 0 {
		add(errors.New("publisher.caption_limit must be >= 0"))
	}
	if cfg.Publisher.RatePerMinute < 0 {
		add(errors.New("publisher.rate_per_minute must be >= 0"))
	}

	add(validateOps(cfg.Ops))
	return errors.Join(errs...)
}

func validateScheduler(s SchedulerConfig) error {
	tick, err := ParseDurationField("scheduler.tick", s.Tick)
	if err != nil {
		return err
	}
	if tick > 0 && tick.Seconds() < 1 {
		return errors.New("scheduler.tick must be at least 1s")
	}
	if s.LookaheadDays < 0 {
		return errors.New("scheduler.lookahead_days must be >= 0")
	}
	loc, err := s.LoadLocation()
	if err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if _, err := cadence.New(cadence.Config{
		DayStart:    s.DayStart,
		DayEnd:      s.DayEnd,
		SlotsPerDay: s.SlotsPerDay,
		Location:    loc,
	}); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func validateOps(o OpsConfig) error {
	if !o.Enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(o.Addr))
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if strings.TrimSpace(o.Token) == "" && !IsLoopbackHost(host) {
		return fmt.Errorf("ops.addr %q is not loopback; set ops.token", o.Addr)
	}
	for path, raw := range map[string]string{
		"ops.read_timeout":  o.ReadTimeout,
		"ops.write_timeout": o.WriteTimeout,
		"ops.idle_timeout":  o.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// IsLoopbackHost reports whether host only accepts local connections.
// An empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	h := strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
