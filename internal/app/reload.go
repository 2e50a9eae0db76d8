package app

import (
	"context"
	"strings"

	"shipbot/internal/config"
	"shipbot/internal/eventbus"
	logx "shipbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains queued configs so a burst of saves is applied once.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok || newer == nil {
				return cur
			}
			cur = newer
		default:
			return cur
		}
	}
}

// applyConfig pushes the live-reloadable sections into running components.
// Storage and transport credentials only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") || ch.Has("telegram") {
		// target first so Apply does not warn when the Telegram sink turns on
		a.logs.SetTelegramTarget(logTarget(newCfg))
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if ch.Has("telegram") {
		a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}

	if ch.Has("telegram") || ch.Has("publisher") {
		if pc, err := mapPublisherConfig(newCfg); err != nil {
			a.log.Warn("invalid publisher config; keeping previous", logx.Err(err))
		} else {
			a.pub.Apply(pc)
		}
	}

	if ch.Has("scheduler") {
		a.applyScheduler(ctx, newCfg)
	}

	if ch.Has("ops") {
		a.ops.Reconfigure(ctx, mapOpsConfig(newCfg))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: ch.Sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config) {
	cad, err := mapCadence(cfg)
	if err != nil {
		a.log.Warn("invalid cadence; keeping previous", logx.Err(err))
		return
	}
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	a.cad.Store(cad)
	a.sched.Apply(cad)
	a.sched.Reconfigure(ctx, sc)
}
