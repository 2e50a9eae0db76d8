// Package intake turns one operator submission into a queued item.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shipbot/internal/eventbus"
	"shipbot/internal/storage"
	logx "shipbot/pkg/logx"
)

var (
	ErrEmpty  = errors.New("submission has no text")
	ErrRender = errors.New("render failed")
)

// Renderer produces the publishable text from the raw submission.
type Renderer interface {
	Render(ctx context.Context, raw string) (string, error)
}

type RendererFunc func(ctx context.Context, raw string) (string, error)

func (f RendererFunc) Render(ctx context.Context, raw string) (string, error) { return f(ctx, raw) }

// Passthrough publishes the raw text as-is.
type Passthrough struct{}

func (Passthrough) Render(_ context.Context, raw string) (string, error) { return raw, nil }

type Submitter interface {
	Submit(ctx context.Context, n storage.NewItem) (int64, error)
}

type Service struct {
	store    Submitter
	renderer Renderer
	bus      eventbus.Bus
	log      logx.Logger
}

func New(store Submitter, r Renderer, bus eventbus.Bus, log logx.Logger) *Service {
	if r == nil {
		r = Passthrough{}
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, renderer: r, bus: bus, log: log}
}

// Submit renders raw and stores a queued, unscheduled item.
func (s *Service) Submit(ctx context.Context, raw, mediaRef string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrEmpty
	}
	rendered, err := s.renderer.Render(ctx, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRender, err)
	}
	if strings.TrimSpace(rendered) == "" {
		return 0, fmt.Errorf("%w: renderer returned empty text", ErrRender)
	}
	id, err := s.store.Submit(ctx, storage.NewItem{
		RawContent:      raw,
		RenderedContent: rendered,
		MediaRef:        strings.TrimSpace(mediaRef),
	})
	if err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	s.log.Info("item submitted", logx.Int64("item_id", id), logx.Bool("media", mediaRef != ""), logx.Int("bytes", len(rendered)))
	s.bus.Publish(eventbus.Event{Type: eventbus.ItemSubmitted, Data: eventbus.ItemEvent{ItemID: id}})
	return id, nil
}
