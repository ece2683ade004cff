package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "seobot/internal/transport"
	logx "seobot/pkg/logx"
)

type apiCall struct {
	method string
	form   map[string]string
}

func newTestAdapter(t *testing.T) (*Adapter, func() []apiCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []apiCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		c := apiCall{method: strings.TrimPrefix(r.URL.Path, "/"), form: map[string]string{}}
		for k := range r.PostForm {
			c.form[k] = r.PostForm.Get(k)
		}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"` + c.form["channel"] + `","ts":"1700.0001","message_ts":"1700.0002"}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{BotToken: "xoxb-test", APIURL: srv.URL + "/"}, logx.Nop())
	require.NoError(t, err)
	return a, func() []apiCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]apiCall(nil), calls...)
	}
}

func TestSendAndEdit(t *testing.T) {
	t.Parallel()
	a, calls := newTestAdapter(t)

	ref, err := a.SendText(context.Background(), kit.ChatTarget{Channel: "C1", Thread: "1699.1"}, "*hello*",
		&kit.SendOptions{Buttons: []kit.Button{{Label: "Voir plus", Action: "show_more", Value: "id-1", Style: kit.StylePrimary}}})
	require.NoError(t, err)
	assert.Equal(t, kit.MessageRef{Platform: Name, Channel: "C1", Thread: "1699.1", ID: "1700.0001"}, ref)

	require.NoError(t, a.EditText(context.Background(), ref, "updated", nil))

	cs := calls()
	require.Len(t, cs, 2)
	assert.Equal(t, "chat.postMessage", cs[0].method)
	assert.Equal(t, "C1", cs[0].form["channel"])
	assert.Equal(t, "1699.1", cs[0].form["thread_ts"])
	assert.Contains(t, cs[0].form["blocks"], `"action_id":"show_more#0"`)
	assert.Contains(t, cs[0].form["blocks"], `"style":"primary"`)
	assert.Equal(t, "chat.update", cs[1].method)
	assert.Equal(t, "1700.0001", cs[1].form["ts"])
}

func TestSendEphemeral(t *testing.T) {
	t.Parallel()
	a, calls := newTestAdapter(t)

	ref, err := a.SendText(context.Background(), kit.ChatTarget{Channel: "C1"}, "only you", &kit.SendOptions{Ephemeral: true, UserID: "U1"})
	require.NoError(t, err)
	assert.Empty(t, ref.ID)
	cs := calls()
	require.Len(t, cs, 1)
	assert.Equal(t, "chat.postEphemeral", cs[0].method)
	assert.Equal(t, "U1", cs[0].form["user"])
}

func TestBlocksSplitLongText(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("é", 100) + "\n"
	text := strings.Repeat(line, 40)
	blocks := Blocks(text, nil)
	require.Greater(t, len(blocks), 1)
	for _, b := range blocks {
		sec, ok := b.(*slack.SectionBlock)
		require.True(t, ok)
		assert.LessOrEqual(t, len(sec.Text.Text), sectionLimit)
	}

	raw, err := json.Marshal(Blocks("x", []kit.Button{{Label: "a", Action: "delete_schedule", Value: "1", Style: kit.StyleDanger}, {Label: "b", Action: "delete_schedule", Value: "2"}}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"delete_schedule#1"`)
	assert.Contains(t, string(raw), `"style":"danger"`)
}

func TestActionName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "delete_schedule", actionName("delete_schedule#3"))
	assert.Equal(t, "show_more", actionName("show_more"))
}

func TestStripMentions(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "check example.com", StripMentions("<@U0BOT>  check example.com"))
}

func TestFromEventsAPI(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t)
	a.botUserID.Store("UBOT")

	up, ok := a.fromEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.AppMentionEvent{
			User: "U1", Channel: "C1", Text: "<@UBOT> check a.com", TimeStamp: "1.1",
		}},
	})
	require.True(t, ok)
	assert.Equal(t, kit.UpdateMention, up.Kind)
	assert.Equal(t, "check a.com", up.Message.Text)
	assert.Equal(t, "1.1", up.Message.Thread)

	_, ok = a.fromEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
			User: "U1", Channel: "C1", ChannelType: "channel", Text: "hi",
		}},
	})
	assert.False(t, ok)

	up, ok = a.fromEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
			User: "U1", Channel: "D1", ChannelType: "im", Text: "help",
		}},
	})
	require.True(t, ok)
	assert.True(t, up.Message.IsDirect)

	_, ok = a.fromEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
			User: "UBOT", Channel: "D1", ChannelType: "im", Text: "echo",
		}},
	})
	assert.False(t, ok)
}

func TestFromSlashCommandAndInteraction(t *testing.T) {
	t.Parallel()
	up := fromSlashCommand(slack.SlashCommand{Command: "/ahrefs-check", Text: "a.com", ChannelID: "C1", UserID: "U1", UserName: "bob"})
	assert.Equal(t, kit.UpdateCommand, up.Kind)
	assert.Equal(t, "/ahrefs-check a.com", up.Message.Text)

	var cb slack.InteractionCallback
	cb.Type = slack.InteractionTypeBlockActions
	cb.TriggerID = "T1"
	cb.User.ID = "U1"
	cb.Container.ChannelID = "C1"
	cb.Container.MessageTs = "1.5"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: "delete_schedule#2", Value: "a.com-1"}}
	ups := fromInteraction(cb)
	require.Len(t, ups, 1)
	assert.Equal(t, &kit.Action{ID: "T1", Channel: "C1", MessageID: "1.5", UserID: "U1", Name: "delete_schedule", Value: "a.com-1"}, ups[0].Action)
}

func TestFormatChannel(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t)
	assert.Equal(t, "<#C1>", a.FormatChannel("C1"))
	assert.Equal(t, "<#C1>", a.FormatChannel("<#C1>"))
}
