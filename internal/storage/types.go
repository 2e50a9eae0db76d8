package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled          = errors.New("storage disabled")
	ErrNotFound          = errors.New("item not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSlotTaken         = errors.New("slot already taken by another queued item")
	ErrInvalidItem       = errors.New("invalid item")
)

// State is an item's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StatePublished State = "published"
	StateDeleted   State = "deleted"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == StatePublished || s == StateDeleted }

// Item is one unit of content moving through the pipeline.
type Item struct {
	ID              int64
	RawContent      string
	RenderedContent string
	MediaRef        string // empty means text-only
	State           State
	CreatedAt       time.Time
	ScheduledAt     time.Time // zero means no slot assigned yet
	PublishedAt     time.Time
}

func (it Item) Scheduled() bool { return !it.ScheduledAt.IsZero() }

// NewItem is the submit payload.
type NewItem struct {
	RawContent      string
	RenderedContent string
	MediaRef        string
}

func (n NewItem) validate() error {
	if strings.TrimSpace(n.RenderedContent) == "" {
		return errors.Join(ErrInvalidItem, errors.New("rendered content is required"))
	}
	return nil
}

// Store is the persistence API used by the scheduler, publisher and operator commands.
type Store interface {
	// Submit creates a queued, unscheduled item and returns its id.
	Submit(ctx context.Context, n NewItem) (int64, error)
	// ListQueued returns all queued items ordered by id.
	ListQueued(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)

	MarkScheduled(ctx context.Context, id int64, at time.Time) error
	MarkPublished(ctx context.Context, id int64) error
	// MarkDeleted is a no-op for items already in a terminal state.
	MarkDeleted(ctx context.Context, id int64) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
//   - "memory": in-process only
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	Action        string
	Target        string
	OK            bool
	Error         string
}

// instant normalizes t to the stored precision (UTC milliseconds) so equality
// checks behave the same for every driver.
func instant(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
