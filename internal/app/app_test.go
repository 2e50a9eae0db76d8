package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"shipbot/internal/config"
	"shipbot/internal/eventbus"
	"shipbot/internal/intake"
	"shipbot/internal/observability/opshttp"
	"shipbot/internal/publisher"
	"shipbot/internal/scheduler"
	"shipbot/internal/storage"
	kit "shipbot/internal/transport"
	"shipbot/internal/transport/telegram/router"
	logx "shipbot/pkg/logx"
)

const baseConfig = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "channel": "@shipbot_news", "group_log": "-100777"},
  "logging": {"level": "info", "telegram": {"enabled": true, "thread_id": 9, "min_level": "warn"}},
  "storage": {"driver": "memory"},
  "scheduler": {"enabled": false, "timezone": "UTC"}
}`

func mustConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.Decode("config.json", []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

type fakeChannel struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeChannel) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{MessageID: len(f.texts)}, nil
}

func (f *fakeChannel) SendPhoto(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}

func TestMappers(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, baseConfig)

	if lt := logTarget(cfg); lt.ChatID != -100777 || lt.ThreadID != 9 {
		t.Fatalf("log target = %+v", lt)
	}
	pc, err := mapPublisherConfig(cfg)
	if err != nil || pc.Target.Username != "@shipbot_news" || pc.CaptionLimit != publisher.DefaultCaptionLimit {
		t.Fatalf("publisher config = %+v, %v", pc, err)
	}
	sc, err := mapSchedulerConfig(cfg)
	if err != nil || sc.Enabled || sc.Tick != scheduler.DefaultTick || sc.Location.String() != "UTC" {
		t.Fatalf("scheduler config = %+v, %v", sc, err)
	}
	cad, err := mapCadence(cfg)
	if err != nil || cad.Describe() != "09:00, 11:12, 13:24, 15:36, 17:48" {
		t.Fatalf("cadence = %v, %v", cad, err)
	}
	if st := mapStorageConfig(cfg); st.Driver != "memory" {
		t.Fatalf("storage config = %+v", st)
	}
	if tc := mapTelegramConfig(cfg); tc.PollTimeout != config.DefaultPollTimeout || tc.Token != "123:abc" {
		t.Fatalf("telegram config = %+v", tc)
	}
	if oc := mapOpsConfig(cfg); oc.Enabled || oc.ReadTimeout != 10*time.Second {
		t.Fatalf("ops config = %+v", oc)
	}

	cfg.Telegram.GroupLog = ""
	if lt := logTarget(cfg); !lt.IsZero() {
		t.Fatalf("empty group_log should give zero target, got %+v", lt)
	}
}

func TestStopTimeoutNeverExtendsDeadline(t *testing.T) {
	t.Parallel()
	if got := stopTimeout(2*time.Second, time.Time{}, false); got != 2*time.Second {
		t.Fatalf("no deadline: %v", got)
	}
	if got := stopTimeout(2*time.Second, time.Now().Add(-time.Second), true); got != 0 {
		t.Fatalf("past deadline: %v", got)
	}
	if got := stopTimeout(2*time.Second, time.Now().Add(500*time.Millisecond), true); got > 500*time.Millisecond {
		t.Fatalf("near deadline: %v", got)
	}
}

// newTestApp wires everything except the Telegram adapter, which needs a live
// Bot API.
func newTestApp(t *testing.T, cfg *config.Config) (*App, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	m := config.NewConfigManager("unused.json")
	m.Commit(cfg)

	logSvc, log := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logSvc.Close() })

	store := storage.NewMemory(nil)
	bus := eventbus.New()
	pc, err := mapPublisherConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	pub := publisher.New(ch, store, pc, log, nil)
	cad, err := mapCadence(cfg)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	in := intake.New(store, nil, bus, log)
	a := &App{
		cfgm:   m,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		pub:    pub,
		sched:  scheduler.New(sc, cad, store, pub, scheduler.WithBus(bus)),
		intake: in,
		ops:    opshttp.New(mapOpsConfig(cfg), opshttp.Deps{}, log),
	}
	a.cad.Store(cad)
	a.router = router.New(ch, router.Deps{
		Ops:      a.sched,
		Intake:   in,
		Audit:    store,
		Slots:    func() string { return a.cad.Load().Describe() },
		Location: func() *time.Location { return a.cad.Load().Location() },
	}, cfg.Telegram.OwnerUserIDs, log)
	return a, ch
}

func TestApplyConfigReloadsLiveSections(t *testing.T) {
	t.Parallel()
	oldCfg := mustConfig(t, baseConfig)
	a, ch := newTestApp(t, oldCfg)
	events, unsub := a.bus.Subscribe(16)
	defer unsub()

	newCfg := mustConfig(t, baseConfig)
	newCfg.Scheduler.SlotsPerDay = 2
	newCfg.Scheduler.DayStart = "10:00"
	newCfg.Scheduler.DayEnd = "12:00"
	newCfg.Telegram.OwnerUserIDs = []int64{7}

	ctx := context.Background()
	a.applyConfig(ctx, oldCfg, newCfg)

	if got := a.cad.Load().Describe(); got != "10:00, 11:00" {
		t.Fatalf("cadence after reload = %q", got)
	}

	// new owner is accepted, old owner is not
	a.router.Handle(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: 7, Text: "/queue"}})
	a.router.Handle(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, FromID: 42, Text: "/queue"}})
	ch.mu.Lock()
	texts := append([]string(nil), ch.texts...)
	ch.mu.Unlock()
	if len(texts) != 2 || texts[0] != "The publishing queue is empty." || texts[1] != "unauthorized" {
		t.Fatalf("replies = %q", texts)
	}

	select {
	case e := <-events:
		if e.Type != eventbus.ConfigReloaded {
			t.Fatalf("event = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no config.reloaded event")
	}
}

func TestApplyConfigTogglesScheduler(t *testing.T) {
	t.Parallel()
	oldCfg := mustConfig(t, baseConfig)
	a, _ := newTestApp(t, oldCfg)
	ctx := context.Background()

	newCfg := mustConfig(t, baseConfig)
	on := true
	newCfg.Scheduler.Enabled = &on
	a.applyConfig(ctx, oldCfg, newCfg)
	if !a.sched.Enabled() {
		t.Fatal("scheduler not enabled by reload")
	}

	off := mustConfig(t, baseConfig)
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.applyConfig(stopCtx, newCfg, off)
	if a.sched.Enabled() {
		t.Fatal("scheduler not disabled by reload")
	}
}

func TestApplyConfigNoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, baseConfig)
	a, _ := newTestApp(t, cfg)
	events, unsub := a.bus.Subscribe(4)
	defer unsub()
	a.applyConfig(context.Background(), cfg, mustConfig(t, baseConfig))
	select {
	case e := <-events:
		t.Fatalf("unexpected event %s", e.Type)
	default:
	}
}

func TestHealthReport(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, mustConfig(t, baseConfig))
	if _, err := a.sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	rep := a.health()
	if !rep.OK || rep.Details["slots"] != "09:00, 11:12, 13:24, 15:36, 17:48" {
		t.Fatalf("health = %+v", rep)
	}
	if _, ok := rep.Details["last_tick_at"]; !ok {
		t.Fatalf("health missing last tick: %+v", rep.Details)
	}
}

func TestLatestDrainsBurst(t *testing.T) {
	t.Parallel()
	sub := make(chan *config.Config, 3)
	a, b, c := &config.Config{}, &config.Config{}, &config.Config{}
	sub <- b
	sub <- c
	if got := latest(sub, a); got != c {
		t.Fatal("latest did not return newest config")
	}
}
