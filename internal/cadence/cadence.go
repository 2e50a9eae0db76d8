// Package cadence generates candidate publish instants from a daily rule:
// a start and end wall-clock time and a number of evenly spaced slots.
//
// Spacing is derived: floor((end - start) in minutes / slots) minutes. With the
// defaults 09:00–20:00 and 5 slots this yields 09:00, 11:12, 13:24, 15:36, 17:48.
package cadence

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultDayStart    = "09:00"
	DefaultDayEnd      = "20:00"
	DefaultSlotsPerDay = 5
)

// Config describes the daily publishing window.
type Config struct {
	DayStart    string // "HH:MM"
	DayEnd      string // "HH:MM", exclusive upper bound of the window
	SlotsPerDay int
	Location    *time.Location // nil means time.Local
}

// Cadence is immutable and safe for concurrent use.
type Cadence struct {
	start   time.Duration // offset from local midnight
	end     time.Duration
	slots   int
	spacing time.Duration
	loc     *time.Location
}

var _ cron.Schedule = (*Cadence)(nil)

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	m := reClock.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 || mm > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// New validates cfg and derives the slot spacing.
func New(cfg Config) (*Cadence, error) {
	startRaw := strings.TrimSpace(cfg.DayStart)
	if startRaw == "" {
		startRaw = DefaultDayStart
	}
	endRaw := strings.TrimSpace(cfg.DayEnd)
	if endRaw == "" {
		endRaw = DefaultDayEnd
	}
	start, err := ParseClock(startRaw)
	if err != nil {
		return nil, fmt.Errorf("day_start: %w", err)
	}
	end, err := ParseClock(endRaw)
	if err != nil {
		return nil, fmt.Errorf("day_end: %w", err)
	}
	if end <= start {
		return nil, errors.New("day_end must be after day_start")
	}
	slots := cfg.SlotsPerDay
	if slots == 0 {
		slots = DefaultSlotsPerDay
	}
	if slots < 0 {
		return nil, errors.New("slots_per_day must be > 0")
	}
	windowMin := int((end - start) / time.Minute)
	spacingMin := windowMin / slots
	if spacingMin < 1 {
		return nil, fmt.Errorf("%d slots do not fit in a %d minute window", slots, windowMin)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Cadence{
		start:   start,
		end:     end,
		slots:   slots,
		spacing: time.Duration(spacingMin) * time.Minute,
		loc:     loc,
	}, nil
}

func (c *Cadence) Spacing() time.Duration      { return c.spacing }
func (c *Cadence) SlotsPerDay() int            { return c.slots }
func (c *Cadence) Location() *time.Location    { return c.loc }
func (c *Cadence) Window() (start, end string) { return clock(c.start), clock(c.end) }

// SlotsForDay returns the day's slots in ascending order. Only the calendar
// date of day (in the cadence location) matters.
func (c *Cadence) SlotsForDay(day time.Time) []time.Time {
	d := day.In(c.loc)
	h := int(c.start / time.Hour)
	m := int((c.start % time.Hour) / time.Minute)
	first := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, c.loc)

	out := make([]time.Time, c.slots)
	for i := range out {
		out[i] = first.Add(time.Duration(i) * c.spacing)
	}
	return out
}

// Candidates yields every slot strictly after from, day by day, without bound.
// The sequence is lazy and restartable; callers stop ranging when they have enough.
func (c *Cadence) Candidates(from time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		day := from.In(c.loc)
		for {
			for _, s := range c.SlotsForDay(day) {
				if !s.After(from) {
					continue
				}
				if !yield(s) {
					return
				}
			}
			day = day.AddDate(0, 0, 1)
		}
	}
}

// Next returns the first slot strictly after t (cron.Schedule).
func (c *Cadence) Next(t time.Time) time.Time {
	for s := range c.Candidates(t) {
		return s
	}
	return time.Time{}
}

// Describe renders today's slot times, e.g. "09:00, 11:12, 13:24, 15:36, 17:48".
func (c *Cadence) Describe() string {
	parts := make([]string, 0, c.slots)
	for i := 0; i < c.slots; i++ {
		parts = append(parts, clock(c.start+time.Duration(i)*c.spacing))
	}
	return strings.Join(parts, ", ")
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}
