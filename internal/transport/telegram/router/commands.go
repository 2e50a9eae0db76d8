package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shipbot/internal/intake"
	"shipbot/internal/storage"
	"shipbot/pkg/tgui"
)

// previewRunes is how much of each item /queue shows.
const previewRunes = 60

func (r *Router) builtin() []Command {
	return []Command{
		{Name: "start", Description: "Welcome and command list", Handle: r.cmdStart},
		{Name: "help", Aliases: []string{"h"}, Description: "Show this message", Handle: r.cmdHelp},
		{Name: "new", Aliases: []string{"new_article"}, Description: "Add a post to the queue", Usage: "/new text",
			Access: AccessOwnerOnly, Audit: true, Timeout: 30 * time.Second, Handle: r.cmdNew},
		{Name: "queue", Description: "Show the publishing queue", Access: AccessOwnerOnly, Timeout: 10 * time.Second, Handle: r.cmdQueue},
		{Name: "delete", Description: "Remove a post from the queue", Usage: "/delete id",
			Access: AccessOwnerOnly, Audit: true, Timeout: 10 * time.Second, Handle: r.cmdDelete},
		{Name: "post_now", Description: "Publish a post to the channel now", Usage: "/post_now id",
			Access: AccessOwnerOnly, Audit: true, Timeout: 60 * time.Second, Handle: r.cmdPostNow},
	}
}

func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := r.cmds
	r.mu.RUnlock()

	lines := make([]tgui.H, 0, len(cmds)+3)
	lines = append(lines, tgui.B("Available commands:"))
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		lines = append(lines, tgui.Esc(usage+" - "+c.Description))
	}
	lines = append(lines, tgui.Esc("Send a photo with a caption to queue a post with an image."))
	if r.deps.Slots != nil {
		lines = append(lines, tgui.Esc("\nDaily slots: "+r.deps.Slots()+" ("+r.location().String()+")"))
	}
	return string(tgui.Lines(lines...))
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	r.replyHTML(ctx, req.Chat, "Welcome to ShipBot! 🚢\n\n"+r.helpText()+"\n\nUse /new to add your first post!")
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	r.replyHTML(ctx, req.Chat, r.helpText())
	return nil
}

func (r *Router) cmdNew(ctx context.Context, req *Request) error {
	if req.Text == "" {
		r.reply(ctx, req.Chat, "Send the post text after the command: /new text\nOr send a photo with the text as its caption.")
		return nil
	}
	id, err := r.deps.Intake.Submit(ctx, req.Text, req.PhotoID)
	if err != nil {
		if errors.Is(err, intake.ErrRender) {
			r.reply(ctx, req.Chat, "Could not prepare the post text. Please try again.")
		} else {
			r.reply(ctx, req.Chat, "Failed to add the post. Please try again.")
		}
		return err
	}
	r.reply(ctx, req.Chat, fmt.Sprintf("Post %d added to the queue.", id))
	return nil
}

func (r *Router) cmdQueue(ctx context.Context, req *Request) error {
	items, err := r.deps.Ops.Pending(ctx)
	if err != nil {
		r.reply(ctx, req.Chat, "Failed to load the queue. Please try again.")
		return err
	}
	if len(items) == 0 {
		r.reply(ctx, req.Chat, "The publishing queue is empty.")
		return nil
	}
	var b strings.Builder
	b.WriteString(string(tgui.B(fmt.Sprintf("Publishing queue (%d):", len(items)))))
	for _, it := range items {
		when := "unscheduled"
		if it.Scheduled() {
			when = it.ScheduledAt.In(r.location()).Format("2006-01-02 15:04")
		}
		media := ""
		if it.MediaRef != "" {
			media = " 🖼"
		}
		b.WriteString("\n\n")
		b.WriteString(string(tgui.Lines(
			tgui.Raw("ID: "+string(tgui.Code(strconv.FormatInt(it.ID, 10)))+media),
			tgui.Esc(tgui.TruncRunes(tgui.OneLine(it.RenderedContent), previewRunes)),
			tgui.Esc("Scheduled for: "+when),
		)))
	}
	r.replyHTML(ctx, req.Chat, b.String())
	return nil
}

// parseID reads the single id argument, replying with usage on bad input.
func (r *Router) parseID(ctx context.Context, req *Request, usage string) (int64, bool) {
	if len(req.Args) < 1 {
		r.reply(ctx, req.Chat, "Please provide a post ID. Usage: "+usage)
		return 0, false
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		r.reply(ctx, req.Chat, "Please provide a valid post ID.")
		return 0, false
	}
	return id, true
}

func (r *Router) cmdDelete(ctx context.Context, req *Request) error {
	id, ok := r.parseID(ctx, req, "/delete id")
	if !ok {
		return nil
	}
	if err := r.deps.Ops.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, req.Chat, fmt.Sprintf("Post %d not found in the queue.", id))
		} else {
			r.reply(ctx, req.Chat, "Failed to delete the post. Please try again.")
		}
		return err
	}
	r.reply(ctx, req.Chat, fmt.Sprintf("Post %d removed from the queue.", id))
	return nil
}

func (r *Router) cmdPostNow(ctx context.Context, req *Request) error {
	id, ok := r.parseID(ctx, req, "/post_now id")
	if !ok {
		return nil
	}
	out, err := r.deps.Ops.ForcePublish(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, req.Chat, fmt.Sprintf("Post %d not found in the queue.", id))
		} else {
			r.reply(ctx, req.Chat, "Failed to publish the post. Please try again.")
		}
		return err
	}
	r.reply(ctx, req.Chat, fmt.Sprintf("Post %d published to the channel (%s).", id, out.Kind))
	return nil
}
