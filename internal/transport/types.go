package transport

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrSinkUnavailable marks a failed message delivery. Delivery is never retried.
var ErrSinkUnavailable = errors.New("messaging sink unavailable")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message" // direct message to the bot
	UpdateMention UpdateKind = "mention" // bot mentioned in a channel
	UpdateCommand UpdateKind = "command" // slash command
	UpdateAction  UpdateKind = "action"  // button press
)

type Update struct {
	Platform string
	Kind     UpdateKind
	Message  *Message
	Action   *Action
}

type Message struct {
	ID       string
	Channel  string
	Thread   string
	UserID   string
	Username string
	Text     string
	IsDirect bool
}

type Action struct {
	ID        string
	Channel   string
	Thread    string
	MessageID string
	UserID    string
	Username  string
	Name      string
	Value     string
}

// ChatTarget addresses a channel (and optional thread) on a platform.
// An empty Platform means the default adapter of the Mux.
type ChatTarget struct {
	Platform string
	Channel  string
	Thread   string
}

type MessageRef struct {
	Platform string
	Channel  string
	Thread   string
	ID       string
}

func (r MessageRef) Target() ChatTarget {
	return ChatTarget{Platform: r.Platform, Channel: r.Channel, Thread: r.Thread}
}

type ButtonStyle string

const (
	StyleDefault ButtonStyle = ""
	StylePrimary ButtonStyle = "primary"
	StyleDanger  ButtonStyle = "danger"
)

// Button is rendered as a Slack block button or a Telegram inline button.
// Action and Value come back in Update.Action when pressed.
type Button struct {
	Label  string
	Action string
	Value  string
	Style  ButtonStyle
}

type SendOptions struct {
	DisablePreview bool
	// Ephemeral asks for a reply visible only to UserID (Slack). Adapters
	// without ephemeral messages post normally.
	Ephemeral bool
	UserID    string
	Buttons   []Button
}

type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

type Adapter interface {
	Sender

	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// Acknowledger is implemented by adapters whose button presses expect an answer
// (Telegram callback queries).
type Acknowledger interface {
	AnswerAction(ctx context.Context, a *Action, text string) error
}

// ChannelFormatter renders a channel reference in the platform's markup.
type ChannelFormatter interface {
	FormatChannel(channel string) string
}
