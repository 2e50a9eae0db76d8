package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"shipbot/internal/publisher"
	rtsup "shipbot/internal/runtime/supervisor"
	"shipbot/internal/storage"
	kit "shipbot/internal/transport"
	logx "shipbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Audit       bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	// Text is everything after the command word, whitespace preserved.
	Text    string
	PhotoID string
	ReqID   string
	Logger  logx.Logger
}

// Ops is the serialized operator surface of the scheduler.
type Ops interface {
	Pending(ctx context.Context) ([]storage.Item, error)
	Delete(ctx context.Context, id int64) error
	ForcePublish(ctx context.Context, id int64) (publisher.Outcome, error)
}

type Intake interface {
	Submit(ctx context.Context, raw, mediaRef string) (int64, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Ops    Ops
	Intake Intake
	Audit  Auditor
	// Slots describes the daily cadence for /help, e.g. "09:00, 11:12, ...".
	Slots func() string
	// Location is read per request so a timezone reload shows up at once.
	Location func() *time.Location
}

type Router struct {
	sender kit.TextSender
	deps   Deps
	log    logx.Logger

	mu     sync.RWMutex
	owners []int64
	cmds   []Command
	index  map[string]*Command

	jobs chan func()
}

func New(sender kit.TextSender, deps Deps, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		sender: sender,
		deps:   deps,
		log:    log,
		owners: slices.Clone(owners),
		jobs:   make(chan func(), 64),
	}
	r.setCommands(r.builtin())
	return r
}

func (r *Router) location() *time.Location {
	if r.deps.Location != nil {
		if loc := r.deps.Location(); loc != nil {
			return loc
		}
	}
	return time.Local
}

func (r *Router) setCommands(cmds []Command) {
	index := make(map[string]*Command, len(cmds)*2)
	for i := range cmds {
		c := &cmds[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			index[a] = c
		}
	}
	r.mu.Lock()
	r.cmds, r.index = cmds, index
	r.mu.Unlock()
}

// SetOwners swaps the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// MenuCommands lists the commands for the client-side menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or
// updates closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(2, runtime.NumCPU())
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", workers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.prepare(ctx, up)
			if job == nil {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.reply(ctx, chatOf(up.Message), "busy, try again")
			}
		}
	}
}

func (r *Router) runJob(job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if job := r.prepare(ctx, up); job != nil {
		job()
	}
}

// prepare resolves the update to a runnable job, replying directly for
// unknown commands and denied access. It returns nil when nothing should run.
func (r *Router) prepare(ctx context.Context, up kit.Update) func() {
	msg := up.Message
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)

	var word, rest string
	switch {
	case strings.HasPrefix(text, "/"):
		body := text[1:]
		word, rest = body, ""
		if end := strings.IndexFunc(body, unicode.IsSpace); end >= 0 {
			word, rest = body[:end], body[end:]
		}
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
	case up.Kind == kit.UpdatePhoto:
		// A captioned photo is a submission.
		word, rest = "new", text
	default:
		return nil
	}

	r.mu.RLock()
	cmd, ok := r.index[strings.ToLower(word)]
	r.mu.RUnlock()
	chat := chatOf(msg)
	if !ok {
		if up.Kind == kit.UpdatePhoto {
			return nil
		}
		return func() { r.reply(ctx, chat, "Unknown command. Try /help") }
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		if up.Kind == kit.UpdatePhoto {
			return nil
		}
		return func() { r.reply(ctx, chat, "unauthorized") }
	}

	rid := uuid.NewString()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         strings.Fields(rest),
		Text:         strings.TrimSpace(rest),
		PhotoID:      msg.PhotoID,
		ReqID:        rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	mws := []Middleware{MWPanicRecover(), MWRequestLog()}
	if cmd.Audit {
		mws = append(mws, MWAudit(r.deps.Audit))
	}
	mws = append(mws, MWTimeout(cmd.Timeout))
	final := Chain(cmd.Handle, mws...)
	return func() { _ = final(ctx, req) }
}

func chatOf(m *kit.Message) kit.ChatTarget {
	if m == nil {
		return kit.ChatTarget{}
	}
	return kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (r *Router) replyHTML(ctx context.Context, to kit.ChatTarget, html string) {
	if _, err := r.sender.SendText(ctx, to, html, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
