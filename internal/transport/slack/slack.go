// Package slack is the Slack chat adapter: socket mode for inbound events, the
// Web API for outbound messages.
package slack

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	rtsup "seobot/internal/runtime/supervisor"
	kit "seobot/internal/transport"
	logx "seobot/pkg/logx"
)

const Name = "slack"

type Config struct {
	BotToken string
	AppToken string
	Debug    bool
	// APIURL overrides the Web API endpoint (tests).
	APIURL string
}

type Adapter struct {
	cfg    Config
	log    logx.Logger
	api    *slack.Client
	socket *socketmode.Client

	botUserID atomic.Value // string
	out       atomic.Value // chan<- kit.Update
	dropped   atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

var (
	_ kit.Adapter          = (*Adapter)(nil)
	_ kit.ChannelFormatter = (*Adapter)(nil)
)

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("slack bot token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken), slack.OptionDebug(cfg.Debug)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	api := slack.New(cfg.BotToken, opts...)
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "slack")), api: api}
	a.botUserID.Store("")
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) FormatChannel(channel string) string {
	if channel == "" || strings.HasPrefix(channel, "<#") {
		return channel
	}
	return "<#" + channel + ">"
}

// Start connects socket mode. Without an app token the adapter is send-only.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)

	if auth, err := a.api.AuthTestContext(ctx); err != nil {
		a.log.Warn("slack auth test failed", logx.Err(err))
	} else {
		a.botUserID.Store(auth.UserID)
		a.log.Info("slack connected", logx.String("team", auth.Team), logx.String("bot_user", auth.UserID))
	}

	if strings.TrimSpace(a.cfg.AppToken) == "" {
		a.log.Warn("slack app token missing; inbound events disabled")
		return nil
	}
	a.socket = socketmode.New(a.api, socketmode.OptionDebug(a.cfg.Debug))
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	socket := a.socket

	a.sup.Go0("socketmode.events", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case evt, ok := <-socket.Events:
				if !ok {
					return
				}
				a.handle(socket, evt)
			}
		}
	})
	a.sup.GoRestart("socketmode.run", func(c context.Context) error {
		return socket.RunContext(c)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second), rtsup.WithPublishFirstError(true))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming events dropped (channel full)", logx.Uint64("count", n))
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("slack stopped with error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) handle(socket *socketmode.Client, evt socketmode.Event) {
	// Connection lifecycle events carry no request.
	if evt.Request != nil {
		socket.Ack(*evt.Request)
	}
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.log.Debug("socket mode connecting")
	case socketmode.EventTypeConnected:
		a.log.Info("socket mode connected")
	case socketmode.EventTypeConnectionError:
		a.log.Warn("socket mode connection error", logx.Any("data", evt.Data))
	case socketmode.EventTypeEventsAPI:
		if ev, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
			if up, ok := a.fromEventsAPI(ev); ok {
				a.emit(up)
			}
		}
	case socketmode.EventTypeSlashCommand:
		if cmd, ok := evt.Data.(slack.SlashCommand); ok {
			a.emit(fromSlashCommand(cmd))
		}
	case socketmode.EventTypeInteractive:
		if cb, ok := evt.Data.(slack.InteractionCallback); ok {
			for _, up := range fromInteraction(cb) {
				a.emit(up)
			}
		}
	}
}

func (a *Adapter) fromEventsAPI(ev slackevents.EventsAPIEvent) (kit.Update, bool) {
	if ev.Type != slackevents.CallbackEvent {
		return kit.Update{}, false
	}
	self, _ := a.botUserID.Load().(string)
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" || (self != "" && inner.User == self) {
			return kit.Update{}, false
		}
		thread := inner.ThreadTimeStamp
		if thread == "" {
			thread = inner.TimeStamp
		}
		return kit.Update{Platform: Name, Kind: kit.UpdateMention, Message: &kit.Message{
			ID:      inner.TimeStamp,
			Channel: inner.Channel,
			Thread:  thread,
			UserID:  inner.User,
			Text:    StripMentions(inner.Text),
		}}, true
	case *slackevents.MessageEvent:
		// Only direct messages; channel traffic arrives as app mentions.
		if inner.ChannelType != "im" || inner.BotID != "" || inner.SubType != "" || (self != "" && inner.User == self) {
			return kit.Update{}, false
		}
		return kit.Update{Platform: Name, Kind: kit.UpdateMessage, Message: &kit.Message{
			ID:       inner.TimeStamp,
			Channel:  inner.Channel,
			Thread:   inner.ThreadTimeStamp,
			UserID:   inner.User,
			Text:     StripMentions(inner.Text),
			IsDirect: true,
		}}, true
	}
	return kit.Update{}, false
}

func fromSlashCommand(cmd slack.SlashCommand) kit.Update {
	return kit.Update{Platform: Name, Kind: kit.UpdateCommand, Message: &kit.Message{
		Channel:  cmd.ChannelID,
		UserID:   cmd.UserID,
		Username: cmd.UserName,
		Text:     strings.TrimSpace(cmd.Command + " " + cmd.Text),
		IsDirect: cmd.ChannelName == "directmessage",
	}}
}

func fromInteraction(cb slack.InteractionCallback) []kit.Update {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil
	}
	channel := cb.Channel.ID
	if channel == "" {
		channel = cb.Container.ChannelID
	}
	msgTS := cb.Container.MessageTs
	if msgTS == "" {
		msgTS = cb.Message.Timestamp
	}
	var out []kit.Update
	for _, ba := range cb.ActionCallback.BlockActions {
		if ba == nil {
			continue
		}
		out = append(out, kit.Update{Platform: Name, Kind: kit.UpdateAction, Action: &kit.Action{
			ID:        cb.TriggerID,
			Channel:   channel,
			Thread:    cb.Message.ThreadTimestamp,
			MessageID: msgTS,
			UserID:    cb.User.ID,
			Username:  cb.User.Name,
			Name:      actionName(ba.ActionID),
			Value:     ba.Value,
		}})
	}
	return out
}

func (a *Adapter) emit(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if to.Channel == "" {
		return kit.MessageRef{}, errors.New("slack: empty channel")
	}
	msg := messageOptions(text, opt)
	if to.Thread != "" {
		msg = append(msg, slack.MsgOptionTS(to.Thread))
	}

	if opt.Ephemeral && opt.UserID != "" {
		if _, err := a.api.PostEphemeralContext(ctx, to.Channel, opt.UserID, msg...); err != nil {
			return kit.MessageRef{}, errors.Wrap(err, "slack ephemeral")
		}
		// Ephemeral messages cannot be edited later.
		return kit.MessageRef{Platform: Name, Channel: to.Channel, Thread: to.Thread}, nil
	}
	ch, ts, err := a.api.PostMessageContext(ctx, to.Channel, msg...)
	if err != nil {
		return kit.MessageRef{}, errors.Wrap(err, "slack post")
	}
	return kit.MessageRef{Platform: Name, Channel: ch, Thread: to.Thread, ID: ts}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ref.ID == "" {
		return errors.New("slack: message has no timestamp")
	}
	if _, _, _, err := a.api.UpdateMessageContext(ctx, ref.Channel, ref.ID, messageOptions(text, opt)...); err != nil {
		return errors.Wrap(err, "slack update")
	}
	return nil
}

// StripMentions removes user mentions such as "<@U123>".
func StripMentions(s string) string {
	return strings.Join(strings.Fields(mentionRe.ReplaceAllString(s, " ")), " ")
}
