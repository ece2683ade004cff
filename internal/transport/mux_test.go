package transport

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recAdapter struct {
	name string
	sent []ChatTarget
	fail error
}

func (a *recAdapter) Name() string {
	return a.name
}

func (a *recAdapter) Start(ctx context.Context, out chan<- Update) error {
	return nil
}

func (a *recAdapter) Stop(ctx context.Context) error {
	return nil
}

func (a *recAdapter) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error) {
	if a.fail != nil {
		return MessageRef{}, a.fail
	}
	a.sent = append(a.sent, to)
	return MessageRef{Channel: to.Channel, ID: "1"}, nil
}

func (a *recAdapter) EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error {
	return a.fail
}

func TestMuxRoutesByPlatform(t *testing.T) {
	t.Parallel()
	sl := &recAdapter{name: "slack"}
	tg := &recAdapter{name: "telegram"}
	m := NewMux("", sl, tg)
	require.Equal(t, "slack", m.Default())

	ref, err := m.SendText(context.Background(), ChatTarget{Channel: "C1"}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "slack", ref.Platform)

	ref, err = m.SendText(context.Background(), ParseDestination("telegram:-100"), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "telegram", ref.Platform)
	require.Len(t, tg.sent, 1)
	assert.Equal(t, "-100", tg.sent[0].Channel)
}

func TestMuxMarksSinkErrors(t *testing.T) {
	t.Parallel()
	m := NewMux("slack", &recAdapter{name: "slack", fail: errors.New("boom")})

	_, err := m.SendText(context.Background(), ChatTarget{Channel: "C1"}, "hi", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
	assert.Contains(t, err.Error(), "boom")

	_, err = m.SendText(context.Background(), ChatTarget{Platform: "discord", Channel: "x"}, "hi", nil)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
}

func TestParseFormatDestination(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want ChatTarget
	}{
		{"C0123", ChatTarget{Channel: "C0123"}},
		{"telegram:-1001", ChatTarget{Platform: "telegram", Channel: "-1001"}},
		{"-1001", ChatTarget{Channel: "-1001"}},
		{"a1:b", ChatTarget{Channel: "a1:b"}},
		{"slack:", ChatTarget{Channel: "slack:"}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseDestination(c.in), c.in)
	}
	assert.Equal(t, "C1", FormatDestination(ChatTarget{Platform: "slack", Channel: "C1"}, "slack"))
	assert.Equal(t, "telegram:5", FormatDestination(ChatTarget{Platform: "telegram", Channel: "5"}, "slack"))
}
