package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"shipbot/internal/intake"
	"shipbot/internal/publisher"
	"shipbot/internal/storage"
	kit "shipbot/internal/transport"
	logx "shipbot/pkg/logx"
)

const owner = int64(42)

type fakeSender struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.replies = append(f.replies, text)
	f.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return f.replies[len(f.replies)-1]
}

type fakeOps struct {
	store     storage.Store
	deleted   []int64
	published []int64
	pubErr    error
}

func (o *fakeOps) Pending(ctx context.Context) ([]storage.Item, error) { return o.store.ListQueued(ctx) }

func (o *fakeOps) Delete(ctx context.Context, id int64) error {
	if _, err := o.store.Get(ctx, id); err != nil {
		return err
	}
	o.deleted = append(o.deleted, id)
	return o.store.MarkDeleted(ctx, id)
}

func (o *fakeOps) ForcePublish(ctx context.Context, id int64) (publisher.Outcome, error) {
	if _, err := o.store.Get(ctx, id); err != nil {
		return publisher.Outcome{}, err
	}
	if o.pubErr != nil {
		return publisher.Outcome{}, o.pubErr
	}
	o.published = append(o.published, id)
	return publisher.Outcome{ItemID: id, Kind: publisher.KindText}, o.store.MarkPublished(ctx, id)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *recordingAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

type fixture struct {
	r      *Router
	sender *fakeSender
	ops    *fakeOps
	audit  *recordingAudit
	store  storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemory(nil)
	f := &fixture{sender: &fakeSender{}, ops: &fakeOps{store: st}, audit: &recordingAudit{}, store: st}
	f.r = New(f.sender, Deps{
		Ops:      f.ops,
		Intake:   intake.New(st, nil, nil, logx.Nop()),
		Audit:    f.audit,
		Slots:    func() string { return "09:00, 11:12" },
		Location: func() *time.Location { return time.UTC },
	}, []int64{owner}, logx.Nop())
	return f
}

func (f *fixture) send(from int64, text string) {
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: from, Text: text}})
}

func TestHelpListsCommandsAndSlots(t *testing.T) {
	f := newFixture(t)
	f.send(7, "/help")
	got := f.sender.last(t)
	for _, want := range []string{"/delete id - Remove a post", "/post_now id", "/queue", "Daily slots: 09:00, 11:12 (UTC)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("help missing %q:\n%s", want, got)
		}
	}
}

func TestBotUsernameSuffixIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.send(7, "/help@ship_bot")
	if !strings.Contains(f.sender.last(t), "Available commands") {
		t.Fatalf("reply = %q", f.sender.last(t))
	}
}

func TestOwnerGate(t *testing.T) {
	f := newFixture(t)
	f.send(7, "/queue")
	if got := f.sender.last(t); got != "unauthorized" {
		t.Fatalf("reply = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.send(owner, "/nope")
	if got := f.sender.last(t); !strings.HasPrefix(got, "Unknown command") {
		t.Fatalf("reply = %q", got)
	}
	f.sender.replies = nil
	f.send(owner, "just chatting")
	if len(f.sender.replies) != 0 {
		t.Fatal("plain text got a reply")
	}
}

func TestNewThenQueue(t *testing.T) {
	f := newFixture(t)
	f.send(owner, "/new <b>Launch</b>\nsecond line "+strings.Repeat("x", 80))
	if got := f.sender.last(t); got != "Post 1 added to the queue." {
		t.Fatalf("reply = %q", got)
	}

	f.send(owner, "/queue")
	got := f.sender.last(t)
	if !strings.Contains(got, "ID: <code>1</code>") || !strings.Contains(got, "Scheduled for: unscheduled") {
		t.Fatalf("queue = %q", got)
	}
	if !strings.Contains(got, "&lt;b&gt;Launch&lt;/b&gt; second line") || !strings.Contains(got, "…") {
		t.Fatalf("preview not escaped/truncated: %q", got)
	}
}

func TestQueueShowsScheduledTime(t *testing.T) {
	f := newFixture(t)
	id, _ := f.store.Submit(context.Background(), storage.NewItem{RenderedContent: "hello"})
	_ = f.store.MarkScheduled(context.Background(), id, time.Date(2026, 10, 14, 11, 12, 0, 0, time.UTC))
	f.send(owner, "/queue")
	if got := f.sender.last(t); !strings.Contains(got, "Scheduled for: 2026-10-14 11:12") {
		t.Fatalf("queue = %q", got)
	}
}

func TestEmptyQueue(t *testing.T) {
	f := newFixture(t)
	f.send(owner, "/queue")
	if got := f.sender.last(t); got != "The publishing queue is empty." {
		t.Fatalf("reply = %q", got)
	}
}

func TestPhotoWithCaptionSubmits(t *testing.T) {
	f := newFixture(t)
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdatePhoto, Message: &kit.Message{ChatID: 1, FromID: owner, Text: "caption text", PhotoID: "AgAC-file"}})
	it, err := f.store.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if it.MediaRef != "AgAC-file" || it.RenderedContent != "caption text" {
		t.Fatalf("item = %+v", it)
	}
}

func TestPhotoFromStrangerIgnoredSilently(t *testing.T) {
	f := newFixture(t)
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdatePhoto, Message: &kit.Message{ChatID: 1, FromID: 7, Text: "x", PhotoID: "p"}})
	if _, err := f.store.Get(context.Background(), 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stranger photo stored: %v", err)
	}
}

func TestDeleteReplies(t *testing.T) {
	f := newFixture(t)
	id, _ := f.store.Submit(context.Background(), storage.NewItem{RenderedContent: "x"})
	tests := []struct {
		text, want string
	}{
		{"/delete", "Please provide a post ID. Usage: /delete id"},
		{"/delete abc", "Please provide a valid post ID."},
		{"/delete 99", "Post 99 not found in the queue."},
		{"/delete 1", "Post 1 removed from the queue."},
	}
	for _, tt := range tests {
		f.send(owner, tt.text)
		if got := f.sender.last(t); got != tt.want {
			t.Fatalf("%s: reply = %q, want %q", tt.text, got, tt.want)
		}
	}
	if len(f.ops.deleted) != 1 || f.ops.deleted[0] != id {
		t.Fatalf("deleted = %v", f.ops.deleted)
	}
}

func TestPostNowRepliesAndAudits(t *testing.T) {
	f := newFixture(t)
	_, _ = f.store.Submit(context.Background(), storage.NewItem{RenderedContent: "x"})

	f.send(owner, "/post_now 1")
	if got := f.sender.last(t); !strings.HasPrefix(got, "Post 1 published to the channel") {
		t.Fatalf("reply = %q", got)
	}
	f.ops.pubErr = publisher.ErrTransport
	_, _ = f.store.Submit(context.Background(), storage.NewItem{RenderedContent: "y"})
	f.send(owner, "/post_now 2")
	if got := f.sender.last(t); got != "Failed to publish the post. Please try again." {
		t.Fatalf("reply = %q", got)
	}

	if len(f.audit.entries) != 2 {
		t.Fatalf("audit entries = %+v", f.audit.entries)
	}
	okEntry, failEntry := f.audit.entries[0], f.audit.entries[1]
	if !okEntry.OK || okEntry.Action != "post_now" || okEntry.Target != "1" || okEntry.ActorID != owner {
		t.Fatalf("ok entry = %+v", okEntry)
	}
	if failEntry.OK || failEntry.Error == "" {
		t.Fatalf("fail entry = %+v", failEntry)
	}
}

func TestDispatchLoopRunsCommands(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- f.r.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: owner, Text: "/queue"}}
	deadline := time.Now().Add(5 * time.Second)
	for {
		f.sender.mu.Lock()
		n := len(f.sender.replies)
		f.sender.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reply from dispatcher")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("DispatchLoop = %v", err)
	}
}

func TestMenuCommands(t *testing.T) {
	f := newFixture(t)
	menu := f.r.MenuCommands()
	if len(menu) != 6 || menu[0].Command != "start" {
		t.Fatalf("menu = %+v", menu)
	}
}
