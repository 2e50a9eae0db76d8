package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdatePhoto   UpdateKind = "photo"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string

	// PhotoID is the largest photo size's file id for photo updates; Text then holds the caption.
	PhotoID string
}

// ChatTarget addresses a chat. Public channels may be addressed by
// username ("@channel") instead of a numeric id.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
	Username string
}

// Recipient renders the target the way the Bot API expects it in chat_id.
func (t ChatTarget) Recipient() string {
	if t.ChatID != 0 {
		return strconv.FormatInt(t.ChatID, 10)
	}
	return t.Username
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

// ParseChatTarget accepts "@channel" or a numeric chat id ("-1001234567890").
func ParseChatTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, errors.New("chat target is empty")
	}
	if strings.HasPrefix(s, "@") {
		if len(s) < 2 {
			return ChatTarget{}, errors.New("chat username is empty")
		}
		return ChatTarget{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ChatTarget{}, errors.New("chat target must be @username or numeric id: " + s)
	}
	return ChatTarget{ChatID: id}, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

const ParseModeHTML = "HTML"

// TextSender is the narrow port used by log sinks and replies.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// ChannelPublisher is the port consumed by the publisher: plain text or a captioned image.
type ChannelPublisher interface {
	TextSender
	SendPhoto(ctx context.Context, to ChatTarget, mediaRef, caption string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	ChannelPublisher

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
