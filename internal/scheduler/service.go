package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"shipbot/internal/cadence"
	"shipbot/internal/eventbus"
	"shipbot/internal/metrics"
	logx "shipbot/pkg/logx"
)

type Service struct {
	// mu serializes ticks and operator actions.
	mu sync.Mutex

	store Store
	pub   Publisher
	clock Clock
	log   logx.Logger
	bus   eventbus.Bus
	rec   metrics.Recorder

	cmu sync.RWMutex
	cfg Config
	cad *cadence.Cadence

	// lifecycle, guarded by lmu
	lmu      sync.Mutex
	c        *cron.Cron
	slotID   cron.EntryID
	job      cron.Job
	cancel   context.CancelFunc
	initDone chan struct{}

	last atomic.Pointer[TickStatus]
}

// TickStatus is the outcome of the latest tick.
type TickStatus struct {
	Report TickReport
	Err    error
}

type Option func(*Service)

func WithClock(c Clock) Option              { return func(s *Service) { s.clock = c } }
func WithBus(b eventbus.Bus) Option         { return func(s *Service) { s.bus = b } }
func WithMetrics(r metrics.Recorder) Option { return func(s *Service) { s.rec = r } }
func WithLogger(log logx.Logger) Option     { return func(s *Service) { s.log = log } }

func New(cfg Config, cad *cadence.Cadence, store Store, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store: store,
		pub:   pub,
		clock: systemClock{},
		bus:   eventbus.Nop{},
		rec:   metrics.Nop{},
		cfg:   cfg.normalized(),
		cad:   cad,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Service) current() (*cadence.Cadence, Config) {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	return s.cad, s.cfg
}

// LastTick reports the latest tick; ok is false before the first one.
func (s *Service) LastTick() (st TickStatus, ok bool) {
	if p := s.last.Load(); p != nil {
		return *p, true
	}
	return TickStatus{}, false
}

func (s *Service) Enabled() bool {
	_, cfg := s.current()
	return cfg.Enabled
}

// Apply swaps the cadence. Committed slots are untouched; only new
// assignments use the new rule.
func (s *Service) Apply(cad *cadence.Cadence) {
	if cad == nil {
		return
	}
	s.cmu.Lock()
	s.cad = cad
	s.cmu.Unlock()

	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.c != nil {
		s.c.Remove(s.slotID)
		s.slotID = s.c.Schedule(cad, s.job)
	}
	start, end := cad.Window()
	s.log.Info("cadence applied", logx.String("window", start+"-"+end), logx.String("slots", cad.Describe()))
}

// Reconfigure applies tick, lookahead and enablement. A changed tick or
// location restarts the trigger.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	s.cmu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.cmu.Unlock()

	s.lmu.Lock()
	running := s.c != nil
	s.lmu.Unlock()

	switch {
	case !cfg.Enabled && running:
		s.Stop(ctx)
	case cfg.Enabled && !running:
		s.Start(ctx)
	case running && (prev.Tick != cfg.Tick || prev.Location.String() != cfg.Location.String()):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start registers the periodic tick plus a wake-up at every slot instant and
// runs one tick immediately. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	cad, cfg := s.current()
	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.c != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithLocation(cfg.Location), cron.WithLogger(cl))
	// One wrapped job for every trigger, so a tick due while another runs is
	// skipped whichever entry fired it.
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { s.runTick(runCtx) }))
	c.Schedule(cron.Every(cfg.Tick), job)
	s.slotID = c.Schedule(cad, job)
	c.Start()

	s.c, s.job, s.cancel = c, job, cancel
	s.initDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.fire()
	}(s.initDone)

	s.log.Info("scheduler started",
		logx.Duration("tick", cfg.Tick),
		logx.String("tz", cfg.Location.String()),
		logx.String("slots", cad.Describe()),
		logx.Time("next_slot", cad.Next(s.clock.Now())),
	)
}

// Stop halts triggering and waits for an in-flight tick, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.lmu.Lock()
	c, cancel, initDone := s.c, s.cancel, s.initDone
	s.c, s.job, s.cancel, s.initDone = nil, nil, nil, nil
	s.lmu.Unlock()
	if c == nil {
		return
	}
	start := time.Now()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	// Cancel after the cron drain so an in-flight publish can finish.
	cancel()
	select {
	case <-initDone:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// fire runs the shared tick job. It returns at once when a tick is already
// in flight or the scheduler is stopped.
func (s *Service) fire() {
	s.lmu.Lock()
	job := s.job
	s.lmu.Unlock()
	if job != nil {
		job.Run()
	}
}

func (s *Service) runTick(ctx context.Context) {
	rep, err := s.Tick(ctx)
	if err != nil {
		s.log.Error("tick aborted", logx.Err(err))
		return
	}
	if len(rep.Published)+len(rep.Failed)+len(rep.Assigned) == 0 {
		s.log.Trace("tick idle", logx.Int("future", rep.Future))
		return
	}
	s.log.Info("tick done",
		logx.Int("published", len(rep.Published)),
		logx.Int("failed", len(rep.Failed)),
		logx.Int("assigned", len(rep.Assigned)),
		logx.Int("remaining", rep.Remaining),
		logx.Duration("took", rep.Took),
	)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
