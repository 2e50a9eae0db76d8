package config

import (
	"slices"
	"sort"
	"strings"

	logx "shipbot/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists changed top-level keys, sorted.
	Sections []string
	// Attrs are safe log fields; they never carry tokens or DSNs.
	Attrs []logx.Field
	// RestartRequired lists sections whose changes only apply after a restart.
	RestartRequired []string
}

func (c Change) Has(section string) bool { return slices.Contains(c.Sections, section) }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	transportChanged := ot.Token != nt.Token ||
		trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		trim(ot.SendTimeout) != trim(nt.SendTimeout)
	if transportChanged || !slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		trim(ot.Channel) != trim(nt.Channel) || trim(ot.GroupLog) != trim(nt.GroupLog) {
		mark("telegram", transportChanged,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.String("telegram.channel", trim(nt.Channel)),
			logx.Bool("telegram.group_log_set", trim(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		lg := newCfg.Logging
		mark("logging", false,
			logx.String("logging.level", lg.Level),
			logx.Bool("logging.console", lg.Console),
			logx.Bool("logging.file_enabled", lg.File.Enabled),
			logx.Bool("logging.telegram_enabled", lg.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		st := newCfg.Storage
		mark("storage", true,
			logx.String("storage.driver", trim(st.Driver)),
			logx.Bool("storage.path_set", trim(st.Path) != ""),
			logx.Bool("storage.dsn_set", trim(st.DSN) != ""),
		)
	}

	oldS, newS := oldCfg.Scheduler, newCfg.Scheduler
	if oldS.IsEnabled() != newS.IsEnabled() || trim(oldS.Tick) != trim(newS.Tick) ||
		trim(oldS.Timezone) != trim(newS.Timezone) || trim(oldS.DayStart) != trim(newS.DayStart) ||
		trim(oldS.DayEnd) != trim(newS.DayEnd) || oldS.SlotsPerDay != newS.SlotsPerDay ||
		oldS.LookaheadDays != newS.LookaheadDays {
		mark("scheduler", false,
			logx.Bool("scheduler.enabled", newS.IsEnabled()),
			logx.String("scheduler.tick", trim(newS.Tick)),
			logx.String("scheduler.timezone", trim(newS.Timezone)),
			logx.String("scheduler.window", trim(newS.DayStart)+"-"+trim(newS.DayEnd)),
			logx.Int("scheduler.slots_per_day", newS.SlotsPerDay),
			logx.Int("scheduler.lookahead_days", newS.LookaheadDays),
		)
	}

	if oldCfg.Publisher != newCfg.Publisher {
		mark("publisher", false,
			logx.Int("publisher.caption_limit", newCfg.Publisher.CaptionLimit),
			logx.Int("publisher.rate_per_minute", newCfg.Publisher.RatePerMinute),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Enabled != no.Enabled || trim(oo.Addr) != trim(no.Addr) || oo.Pprof != no.Pprof ||
		oo.Token != no.Token || oo.ReadTimeout != no.ReadTimeout ||
		oo.WriteTimeout != no.WriteTimeout || oo.IdleTimeout != no.IdleTimeout {
		mark("ops", false,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", trim(no.Addr)),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", trim(no.Token) != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}

func trim(s string) string { return strings.TrimSpace(s) }
