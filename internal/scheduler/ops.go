package scheduler

import (
	"context"
	"fmt"
	"sort"

	"shipbot/internal/eventbus"
	"shipbot/internal/publisher"
	"shipbot/internal/storage"
	logx "shipbot/pkg/logx"
)

// actionable loads a queued item or returns storage.ErrNotFound.
func (s *Service) actionable(ctx context.Context, id int64) (storage.Item, error) {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return storage.Item{}, err
	}
	if it.State != storage.StateQueued {
		return storage.Item{}, fmt.Errorf("item %d is %s: %w", id, it.State, storage.ErrNotFound)
	}
	return it, nil
}

// ForcePublish publishes a queued item now, regardless of its slot.
func (s *Service) ForcePublish(ctx context.Context, id int64) (publisher.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.actionable(ctx, id)
	if err != nil {
		return publisher.Outcome{}, err
	}
	out, err := s.pub.Publish(ctx, it)
	if err != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ItemPublishFailed, Data: eventbus.ItemEvent{ItemID: id, Err: err.Error()}})
		return publisher.Outcome{}, err
	}
	s.log.Info("item force-published", logx.Int64("item_id", id), logx.String("kind", string(out.Kind)))
	s.bus.Publish(eventbus.Event{Type: eventbus.ItemPublished, Data: eventbus.ItemEvent{ItemID: id, ScheduledAt: it.ScheduledAt}})
	return out, nil
}

// Delete marks a queued item deleted. Its slot, if any, becomes free for the
// next assignment pass.
func (s *Service) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.actionable(ctx, id); err != nil {
		return err
	}
	if err := s.store.MarkDeleted(ctx, id); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	s.log.Info("item deleted", logx.Int64("item_id", id))
	s.bus.Publish(eventbus.Event{Type: eventbus.ItemDeleted, Data: eventbus.ItemEvent{ItemID: id}})
	return nil
}

// Pending lists queued items ordered by id.
func (s *Service) Pending(ctx context.Context) ([]storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.store.ListQueued(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
