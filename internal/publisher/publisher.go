// Package publisher sends one item to the channel and commits the Published
// transition once the transport accepts it.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shipbot/internal/metrics"
	"shipbot/internal/storage"
	kit "shipbot/internal/transport"
	logx "shipbot/pkg/logx"
)

const (
	DefaultCaptionLimit  = 1700
	DefaultRatePerMinute = 20
)

var (
	// ErrTransport wraps every failure reported by the channel transport.
	ErrTransport = errors.New("transport failure")
	// ErrEmpty is returned when nothing publishable is left after sanitizing.
	ErrEmpty = errors.New("empty content after sanitize")
)

type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
)

type Config struct {
	Target        kit.ChatTarget
	CaptionLimit  int // bytes; captioned image only when content fits
	RatePerMinute int // <=0 disables limiting
}

// Outcome describes a completed publish.
type Outcome struct {
	ItemID   int64
	Kind     Kind
	Bytes    int
	Fallback bool // markup was stripped instead of sanitized
	Message  kit.MessageRef
}

// Marker is the store transition the publisher commits.
type Marker interface {
	MarkPublished(ctx context.Context, id int64) error
}

type Publisher struct {
	sender kit.ChannelPublisher
	store  Marker
	log    logx.Logger
	rec    metrics.Recorder

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(sender kit.ChannelPublisher, store Marker, cfg Config, log logx.Logger, rec metrics.Recorder) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	p := &Publisher{sender: sender, store: store, log: log, rec: rec}
	p.Apply(cfg)
	return p
}

// Apply swaps target, caption limit and rate at runtime.
func (p *Publisher) Apply(cfg Config) {
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = DefaultCaptionLimit
	}
	var lim *rate.Limiter
	if cfg.RatePerMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.limiter = lim
	p.mu.Unlock()
}

func (p *Publisher) config() (Config, *rate.Limiter) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.limiter
}

// Plan decides how content would be sent: a captioned image when an image is
// attached and the sanitized content fits the caption limit, text otherwise.
func Plan(content, mediaRef string, captionLimit int) Kind {
	if mediaRef != "" && len(content) <= captionLimit {
		return KindPhoto
	}
	return KindText
}

// Publish sends it and marks it published. On any error the item is left
// untouched in the store so the next tick retries it.
func (p *Publisher) Publish(ctx context.Context, it storage.Item) (Outcome, error) {
	if it.State != storage.StateQueued {
		return Outcome{}, fmt.Errorf("publish item %d in state %s: %w", it.ID, it.State, storage.ErrInvalidTransition)
	}
	cfg, lim := p.config()
	if cfg.Target.IsZero() {
		return Outcome{}, fmt.Errorf("%w: no channel configured", ErrTransport)
	}

	content, fellBack := sanitize(it.RenderedContent)
	if fellBack {
		p.rec.RecordSanitizeFallback()
		p.log.Warn("markup fallback to plain text", logx.Int64("item_id", it.ID))
	}
	kind := Plan(content, it.MediaRef, cfg.CaptionLimit)
	if kind == KindText && content == "" {
		return Outcome{}, fmt.Errorf("item %d: %w", it.ID, ErrEmpty)
	}
	if it.MediaRef != "" && kind == KindText {
		p.log.Info("caption too long, sending text only",
			logx.Int64("item_id", it.ID), logx.Int("bytes", len(content)), logx.Int("limit", cfg.CaptionLimit))
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return Outcome{}, err
		}
	}

	opt := &kit.SendOptions{ParseMode: kit.ParseModeHTML}
	var (
		ref kit.MessageRef
		err error
	)
	if kind == KindPhoto {
		ref, err = p.sender.SendPhoto(ctx, cfg.Target, it.MediaRef, content, opt)
	} else {
		opt.DisablePreview = true
		ref, err = p.sender.SendText(ctx, cfg.Target, content, opt)
	}
	p.rec.RecordPublish(string(kind), err == nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("item %d: %w: %w", it.ID, ErrTransport, err)
	}

	if err := p.store.MarkPublished(ctx, it.ID); err != nil {
		// Already delivered; a retry will deliver again.
		return Outcome{}, fmt.Errorf("mark item %d published: %w", it.ID, err)
	}
	return Outcome{ItemID: it.ID, Kind: kind, Bytes: len(content), Fallback: fellBack, Message: ref}, nil
}
