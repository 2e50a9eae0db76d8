package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "channel": "@shipbot_news"},
  "logging": {"level": "debug", "console": true}
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(minimalJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./data/shipbot.db" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	sc := cfg.Scheduler
	if !sc.IsEnabled() || sc.Tick != "1m0s" || sc.DayStart != "09:00" || sc.DayEnd != "20:00" ||
		sc.SlotsPerDay != 5 || sc.LookaheadDays != 30 {
		t.Fatalf("scheduler defaults = %+v", sc)
	}
	if sc.TickOrDefault(0) != time.Minute {
		t.Fatalf("tick = %v", sc.TickOrDefault(0))
	}
	if cfg.Publisher.CaptionLimit != 1700 || cfg.Publisher.RatePerMinute != 20 {
		t.Fatalf("publisher defaults = %+v", cfg.Publisher)
	}
	if cfg.Telegram.PollTimeoutOrDefault() != DefaultPollTimeout {
		t.Fatalf("poll timeout = %v", cfg.Telegram.PollTimeoutOrDefault())
	}
}

func TestDecodeKeepsExplicitValues(t *testing.T) {
	t.Parallel()
	body := `{
  "telegram": {"token": "t", "owner_user_ids": [1], "channel": "-1001", "poll_timeout": "30s"},
  "logging": {"level": "info"},
  "scheduler": {"enabled": false, "tick": "30s", "day_start": "10:00", "day_end": "12:00", "slots_per_day": 4},
  "publisher": {"caption_limit": 1024}
}`
	cfg, err := Decode("c.json", []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Scheduler.IsEnabled() {
		t.Fatalf("explicit enabled=false lost")
	}
	if cfg.Scheduler.TickOrDefault(time.Minute) != 30*time.Second {
		t.Fatalf("tick = %v", cfg.Scheduler.TickOrDefault(time.Minute))
	}
	if cfg.Scheduler.SlotsPerDay != 4 || cfg.Publisher.CaptionLimit != 1024 {
		t.Fatalf("explicit values overwritten: %+v %+v", cfg.Scheduler, cfg.Publisher)
	}
	if cfg.Telegram.PollTimeoutOrDefault() != 30*time.Second {
		t.Fatalf("poll timeout = %v", cfg.Telegram.PollTimeoutOrDefault())
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 43]
  channel: "@shipbot_news"
logging:
  level: info
scheduler:
  timezone: Europe/Moscow
  slots_per_day: 3
`
	cfg, err := Decode("config.yml", []byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Scheduler.SlotsPerDay != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
	loc, err := cfg.Scheduler.LoadLocation()
	if err != nil || loc.String() != "Europe/Moscow" {
		t.Fatalf("location = %v, %v", loc, err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		name, body string
	}{
		"unknown field":      {"c.json", `{"telegram": {"tokn": "x"}}`},
		"unknown yaml field": {"c.yaml", "plugins:\n  foo: {}\n"},
		"trailing data":      {"c.json", `{} {}`},
		"bad yaml":           {"c.yaml", "telegram: [\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.name, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		mutate func(c *Config)
		want   string
	}{
		"missing token":     {func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		"no owners":         {func(c *Config) { c.Telegram.OwnerUserIDs = nil }, "owner_user_ids"},
		"bad channel":       {func(c *Config) { c.Telegram.Channel = "news" }, "telegram.channel"},
		"bad poll timeout":  {func(c *Config) { c.Telegram.PollTimeout = "soon" }, "telegram.poll_timeout"},
		"bad level":         {func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		"unknown driver":    {func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		"postgres no dsn":   {func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		"inverted window":   {func(c *Config) { c.Scheduler.DayEnd = "08:00" }, "scheduler"},
		"bad clock":         {func(c *Config) { c.Scheduler.DayStart = "9am" }, "scheduler"},
		"bad timezone":      {func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		"sub-second tick":   {func(c *Config) { c.Scheduler.Tick = "10ms" }, "scheduler.tick"},
		"negative caption":  {func(c *Config) { c.Publisher.CaptionLimit = -1 }, "caption_limit"},
		"ops public no tok": {func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:9090"} }, "ops.token"},
		"ops bad addr":      {func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "nope"} }, "ops.addr"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("c.json", []byte(minimalJSON))
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			err = Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateOpsLoopbackWithoutToken(t *testing.T) {
	t.Parallel()
	cfg, _ := Decode("c.json", []byte(minimalJSON))
	for _, addr := range []string{"127.0.0.1:9090", "localhost:9090", "[::1]:9090"} {
		cfg.Ops = OpsConfig{Enabled: true, Addr: addr}
		if err := Validate(cfg); err != nil {
			t.Fatalf("%s: %v", addr, err)
		}
	}
	cfg.Ops = OpsConfig{Enabled: true, Addr: ":9090", Token: "s3cret"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("public with token: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a, _ := Decode("c.json", []byte(minimalJSON))
	b, _ := Decode("c.json", []byte(minimalJSON))

	if ch := SummarizeConfigChange(a, b); len(ch.Sections) != 0 {
		t.Fatalf("identical configs changed: %v", ch.Sections)
	}

	b.Scheduler.SlotsPerDay = 6
	b.Telegram.OwnerUserIDs = []int64{42, 7}
	b.Storage.DSN = "postgres://secret@db/shipbot"
	ch := SummarizeConfigChange(a, b)
	if got := strings.Join(ch.Sections, ","); got != "scheduler,storage,telegram" {
		t.Fatalf("sections = %q", got)
	}
	if got := strings.Join(ch.RestartRequired, ","); got != "storage" {
		t.Fatalf("restart required = %q", got)
	}
	if !ch.Has("scheduler") || ch.Has("logging") {
		t.Fatalf("Has() mismatch: %v", ch.Sections)
	}

	b.Telegram.Token = "other"
	ch = SummarizeConfigChange(a, b)
	if got := strings.Join(ch.RestartRequired, ","); got != "storage,telegram" {
		t.Fatalf("restart required = %q", got)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", minimalJSON)

	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return committed config")
	}

	sub := m.Subscribe(1)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatalf("unchanged file should not publish")
	}

	writeFile(t, dir, "config.json", strings.Replace(minimalJSON, `"debug"`, `"warn"`, 1))
	if !m.reload(ctx) {
		t.Fatalf("changed file should publish")
	}
	got := <-sub
	if got.Logging.Level != "warn" || m.Get() != got {
		t.Fatalf("published = %+v", got.Logging)
	}

	// invalid configs are never committed
	writeFile(t, dir, "config.json", strings.Replace(minimalJSON, `"@shipbot_news"`, `"news"`, 1))
	if m.reload(ctx) {
		t.Fatalf("invalid file should be rejected")
	}
	if m.Get().Logging.Level != "warn" {
		t.Fatalf("rejected config was committed")
	}

	m.SetValidator(func(context.Context, *Config) error { return fmt.Errorf("nope") })
	writeFile(t, dir, "config.json", strings.Replace(minimalJSON, `"debug"`, `"error"`, 1))
	if m.reload(ctx) {
		t.Fatalf("validator rejection ignored")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("channel not closed by Unsubscribe")
	}
	m.Unsubscribe(sub)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatalf("expected newest config to win")
	}
}

func TestWatchPublishesOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "")
	m := NewConfigManager(p)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	body := func(i int) string {
		return fmt.Sprintf("telegram:\n  token: t\n  owner_user_ids: [%d]\n  channel: \"@c\"\n", i+1)
	}
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case cfg := <-sub:
			if len(cfg.Telegram.OwnerUserIDs) != 1 {
				t.Fatalf("cfg = %+v", cfg.Telegram)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch: %v", err)
			}
			return
		case <-tick.C:
			writeFile(t, dir, "config.yaml", body(i))
		case <-deadline:
			cancel()
			t.Fatalf("no reload observed")
		}
	}
}
