package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps items in process memory. It satisfies the full Store
// contract but loses everything on restart.
type memoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	items  map[int64]*Item
	audit  []AuditEntry
}

// NewMemory returns an in-memory Store. now may be nil (time.Now).
func NewMemory(now func() time.Time) Store {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{now: now, items: map[int64]*Item{}}
}

func (s *memoryStore) Submit(ctx context.Context, n NewItem) (int64, error) {
	_ = ctx
	if err := n.validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	it := &Item{
		ID:              s.nextID,
		RawContent:      n.RawContent,
		RenderedContent: n.RenderedContent,
		MediaRef:        n.MediaRef,
		State:           StateQueued,
		CreatedAt:       instant(s.now()),
	}
	s.items[it.ID] = it
	return it.ID, nil
}

func (s *memoryStore) ListQueued(ctx context.Context) ([]Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if it.State == StateQueued {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *it, nil
}

func (s *memoryStore) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	_ = ctx
	if at.IsZero() {
		return ErrInvalidTransition
	}
	at = instant(at)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.State != StateQueued || it.Scheduled() {
		return ErrInvalidTransition
	}
	for _, other := range s.items {
		if other.ID != id && other.State == StateQueued && other.ScheduledAt.Equal(at) {
			return ErrSlotTaken
		}
	}
	it.ScheduledAt = at
	return nil
}

func (s *memoryStore) MarkPublished(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.State != StateQueued {
		return ErrInvalidTransition
	}
	it.State = StatePublished
	it.PublishedAt = instant(s.now())
	return nil
}

func (s *memoryStore) MarkDeleted(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.State.Terminal() {
		return nil
	}
	it.State = StateDeleted
	return nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
