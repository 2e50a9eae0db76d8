package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the key in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is for values Validate has already accepted.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (t TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return durationOr(t.PollTimeout, DefaultPollTimeout)
}

func (t TelegramConfig) SendTimeoutOrDefault() time.Duration {
	return durationOr(t.SendTimeout, DefaultSendTimeout)
}

func (s SchedulerConfig) TickOrDefault(def time.Duration) time.Duration {
	return durationOr(s.Tick, def)
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(s.BusyTimeout, 0)
}

func (o OpsConfig) Timeouts() (read, write, idle time.Duration) {
	return durationOr(o.ReadTimeout, 10*time.Second),
		durationOr(o.WriteTimeout, 0),
		durationOr(o.IdleTimeout, 60*time.Second)
}
