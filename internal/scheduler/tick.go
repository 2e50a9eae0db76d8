package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"shipbot/internal/eventbus"
	"shipbot/internal/publisher"
	"shipbot/internal/storage"
	logx "shipbot/pkg/logx"
)

// Tick runs one reconciliation pass. A returned error means the pass aborted
// (store unreachable or panic); per-item failures are in the report.
func (s *Service) Tick(ctx context.Context) (rep TickReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	now := s.clock.Now()
	rep.At = now
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("tick panic: %v", r)
		}
		rep.Took = time.Since(started)
		s.rec.ObserveTick(rep.Took, err)
		s.last.Store(&TickStatus{Report: rep, Err: err})
		if err == nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TickCompleted, Data: rep})
		}
	}()
	err = s.tickLocked(ctx, now, &rep)
	return rep, err
}

func (s *Service) tickLocked(ctx context.Context, now time.Time, rep *TickReport) error {
	items, err := s.store.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("list queued: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	var ready, future, unscheduled []storage.Item
	for _, it := range items {
		switch {
		case !it.Scheduled():
			unscheduled = append(unscheduled, it)
		case it.ScheduledAt.After(now):
			future = append(future, it)
		default:
			ready = append(ready, it)
		}
	}
	rep.Ready, rep.Future, rep.Unscheduled = len(ready), len(future), len(unscheduled)
	s.rec.SetQueue(len(ready), len(future), len(unscheduled))

	for _, it := range ready {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.publishOne(ctx, it, rep)
	}

	if len(unscheduled) == 0 {
		return nil
	}
	return s.assignLocked(ctx, now, future, unscheduled, rep)
}

func (s *Service) publishOne(ctx context.Context, it storage.Item, rep *TickReport) {
	log := s.log.With(logx.Int64("item_id", it.ID))
	out, err := s.publishGuarded(ctx, it)
	if err != nil {
		rep.Failed = append(rep.Failed, ItemError{ItemID: it.ID, Err: err})
		log.Warn("publish failed, item stays queued", logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.ItemPublishFailed, Data: eventbus.ItemEvent{ItemID: it.ID, ScheduledAt: it.ScheduledAt, Err: err.Error()}})
		return
	}
	rep.Published = append(rep.Published, out)
	log.Info("item published", logx.String("kind", string(out.Kind)), logx.Int("bytes", out.Bytes), logx.Time("slot", it.ScheduledAt))
	s.bus.Publish(eventbus.Event{Type: eventbus.ItemPublished, Data: eventbus.ItemEvent{ItemID: it.ID, ScheduledAt: it.ScheduledAt}})
}

// publishGuarded keeps a panicking publish from taking the rest of the batch down.
func (s *Service) publishGuarded(ctx context.Context, it storage.Item) (out publisher.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic: %v", r)
		}
	}()
	return s.pub.Publish(ctx, it)
}

// assignLocked gives each unscheduled item, oldest first, the earliest
// candidate slot after now that no future item holds.
func (s *Service) assignLocked(ctx context.Context, now time.Time, future, unscheduled []storage.Item, rep *TickReport) error {
	occupied := make(map[int64]struct{}, len(future))
	for _, it := range future {
		occupied[it.ScheduledAt.UnixMilli()] = struct{}{}
	}

	cad, cfg := s.current()
	horizon := now.AddDate(0, 0, cfg.LookaheadDays)
	free := make([]time.Time, 0, len(unscheduled))
	for slot := range cad.Candidates(now) {
		if slot.After(horizon) {
			break
		}
		if _, taken := occupied[slot.UnixMilli()]; taken {
			continue
		}
		free = append(free, slot)
		if len(free) == len(unscheduled) {
			break
		}
	}

	for i, slot := range free {
		it := unscheduled[i]
		err := s.store.MarkScheduled(ctx, it.ID, slot)
		switch {
		case err == nil:
			rep.Assigned = append(rep.Assigned, Assignment{ItemID: it.ID, At: slot})
			s.log.Debug("slot assigned", logx.Int64("item_id", it.ID), logx.Time("slot", slot))
			s.bus.Publish(eventbus.Event{Type: eventbus.ItemScheduled, Data: eventbus.ItemEvent{ItemID: it.ID, ScheduledAt: slot}})
		case errors.Is(err, storage.ErrSlotTaken), errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrNotFound):
			// Raced with another writer; the item is picked up again next tick.
			rep.Failed = append(rep.Failed, ItemError{ItemID: it.ID, Err: err})
			s.log.Warn("slot assignment skipped", logx.Int64("item_id", it.ID), logx.Time("slot", slot), logx.Err(err))
		default:
			return fmt.Errorf("mark item %d scheduled: %w", it.ID, err)
		}
	}
	s.rec.RecordAssigned(len(rep.Assigned))

	rep.Remaining = len(unscheduled) - len(rep.Assigned)
	if len(free) < len(unscheduled) {
		rep.Exhausted = ErrSlotExhaustion
		s.rec.RecordExhausted()
		s.log.Warn("not enough free slots", logx.Int("unscheduled", len(unscheduled)), logx.Int("free", len(free)), logx.Int("lookahead_days", cfg.LookaheadDays))
		s.bus.Publish(eventbus.Event{Type: eventbus.SlotsExhausted, Data: rep.Remaining})
	}
	return nil
}
