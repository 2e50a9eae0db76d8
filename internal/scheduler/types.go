package scheduler

import (
	"context"
	"errors"
	"time"

	"shipbot/internal/publisher"
	"shipbot/internal/storage"
)

const (
	DefaultTick          = time.Minute
	DefaultLookaheadDays = 30
)

// ErrSlotExhaustion means the lookahead window had fewer free slots than
// unscheduled items. It is reported, never returned: the rest wait for the
// next tick.
var ErrSlotExhaustion = errors.New("no free slot within lookahead")

type Config struct {
	Enabled       bool
	Tick          time.Duration
	LookaheadDays int
	Location      *time.Location
}

func (c Config) normalized() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = DefaultLookaheadDays
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Store is the part of storage.Store the loop needs.
type Store interface {
	ListQueued(ctx context.Context) ([]storage.Item, error)
	Get(ctx context.Context, id int64) (storage.Item, error)
	MarkScheduled(ctx context.Context, id int64, at time.Time) error
	MarkDeleted(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, it storage.Item) (publisher.Outcome, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Assignment is one slot written during a tick.
type Assignment struct {
	ItemID int64
	At     time.Time
}

type ItemError struct {
	ItemID int64
	Err    error
}

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	At          time.Time
	Took        time.Duration
	Ready       int
	Future      int
	Unscheduled int

	Published []publisher.Outcome
	Failed    []ItemError
	Assigned  []Assignment
	// Remaining counts unscheduled items left without a slot.
	Remaining int
	Exhausted error
}
