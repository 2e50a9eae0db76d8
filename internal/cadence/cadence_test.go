package cadence

import (
	"testing"
	"time"
)

var utc = time.UTC

func mustCadence(t *testing.T, cfg Config) *Cadence {
	t.Helper()
	if cfg.Location == nil {
		cfg.Location = utc
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func at(day, hh, mm int) time.Time {
	return time.Date(2026, 10, day, hh, mm, 0, 0, utc)
}

func TestDefaultSpacing(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	if c.Spacing() != 132*time.Minute {
		t.Fatalf("Spacing = %v, want 132m", c.Spacing())
	}
	if got := c.Describe(); got != "09:00, 11:12, 13:24, 15:36, 17:48" {
		t.Fatalf("Describe = %q", got)
	}
}

func TestSlotsForDayDeterministic(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	want := []time.Time{at(14, 9, 0), at(14, 11, 12), at(14, 13, 24), at(14, 15, 36), at(14, 17, 48)}

	for _, day := range []time.Time{at(14, 0, 0), at(14, 12, 34), at(14, 23, 59)} {
		got := c.SlotsForDay(day)
		if len(got) != len(want) {
			t.Fatalf("SlotsForDay(%v) len = %d", day, len(got))
		}
		for i := range want {
			if !got[i].Equal(want[i]) {
				t.Fatalf("SlotsForDay(%v)[%d] = %v, want %v", day, i, got[i], want[i])
			}
		}
	}
}

func TestSlotsForDaySpacingProperty(t *testing.T) {
	t.Parallel()
	tests := []struct {
		start, end string
		slots      int
		spacing    time.Duration
	}{
		{"09:00", "20:00", 5, 132 * time.Minute},
		{"08:00", "09:00", 7, 8 * time.Minute},
		{"00:00", "23:59", 3, 479 * time.Minute},
		{"10:30", "11:00", 30, time.Minute},
	}
	for _, tt := range tests {
		c := mustCadence(t, Config{DayStart: tt.start, DayEnd: tt.end, SlotsPerDay: tt.slots})
		for d := 1; d <= 28; d += 9 {
			slots := c.SlotsForDay(at(d, 12, 0))
			if len(slots) != tt.slots {
				t.Fatalf("%s-%s: %d slots, want %d", tt.start, tt.end, len(slots), tt.slots)
			}
			first, _ := ParseClock(tt.start)
			if got := slots[0].Sub(at(d, 0, 0)); got != first {
				t.Fatalf("%s-%s: first slot offset %v, want %v", tt.start, tt.end, got, first)
			}
			for i := 1; i < len(slots); i++ {
				if slots[i].Sub(slots[i-1]) != tt.spacing {
					t.Fatalf("%s-%s: gap %d = %v, want %v", tt.start, tt.end, i, slots[i].Sub(slots[i-1]), tt.spacing)
				}
			}
		}
	}
}

func take(c *Cadence, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for s := range c.Candidates(from) {
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}

func TestCandidatesBeforeFirstSlot(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	got := take(c, at(14, 8, 30), 5)
	want := c.SlotsForDay(at(14, 0, 0))
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("candidate %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCandidatesAfterLastSlotRollToTomorrow(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	got := take(c, at(14, 20, 30), 2)
	if !got[0].Equal(at(15, 9, 0)) || !got[1].Equal(at(15, 11, 12)) {
		t.Fatalf("candidates = %v, want tomorrow's first slots", got)
	}
}

func TestCandidatesExcludeExactInstant(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	got := take(c, at(14, 11, 12), 1)
	if !got[0].Equal(at(14, 13, 24)) {
		t.Fatalf("first candidate = %v, want 13:24", got[0])
	}
}

func TestCandidatesSpanManyDaysInOrder(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	got := take(c, at(14, 14, 0), 13)
	if len(got) != 13 {
		t.Fatalf("got %d candidates", len(got))
	}
	// 15:36 and 17:48 today, then 5 per day.
	if !got[0].Equal(at(14, 15, 36)) || !got[2].Equal(at(15, 9, 0)) || !got[11].Equal(at(16, 17, 48)) || !got[12].Equal(at(17, 9, 0)) {
		t.Fatalf("unexpected sequence: %v", got)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].After(got[i-1]) {
			t.Fatalf("not strictly increasing at %d: %v <= %v", i, got[i], got[i-1])
		}
	}
}

func TestCandidatesRestartable(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	seq := c.Candidates(at(14, 10, 0))
	var first, second []time.Time
	for s := range seq {
		first = append(first, s)
		if len(first) == 3 {
			break
		}
	}
	for s := range seq {
		second = append(second, s)
		if len(second) == 3 {
			break
		}
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("restart mismatch at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestNextImplementsSchedule(t *testing.T) {
	t.Parallel()
	c := mustCadence(t, Config{})
	if got := c.Next(at(14, 17, 48)); !got.Equal(at(15, 9, 0)) {
		t.Fatalf("Next after last slot = %v", got)
	}
	if got := c.Next(at(14, 9, 1)); !got.Equal(at(14, 11, 12)) {
		t.Fatalf("Next(09:01) = %v", got)
	}
}

func TestLocationDayBoundaries(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	c := mustCadence(t, Config{Location: loc})
	// 03:00 UTC is 10:00 local: 09:00 local has passed.
	got := c.Next(time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC))
	want := time.Date(2026, 10, 14, 11, 12, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()
	bad := []Config{
		{DayStart: "20:00", DayEnd: "09:00"},
		{DayStart: "9am"},
		{DayEnd: "24:00"},
		{SlotsPerDay: -1},
		{DayStart: "09:00", DayEnd: "09:03", SlotsPerDay: 5},
	}
	for _, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("New(%+v) succeeded, want error", cfg)
		}
	}
}
