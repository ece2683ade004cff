package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "seobot/pkg/logx"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"config.json": `{"slack":{"enabled":true,"bot_token":"xoxb","app_token":"xapp"},"schedules":{"path":"./s.json","timezone":"UTC"}}`,
		"config.yaml": "slack:\n  enabled: true\n  bot_token: xoxb\n  app_token: xapp\nschedules:\n  path: ./s.json\n  timezone: UTC\n",
		"config.toml": "[slack]\nenabled = true\nbot_token = \"xoxb\"\napp_token = \"xapp\"\n\n[schedules]\npath = \"./s.json\"\ntimezone = \"UTC\"\n",
	}
	for name, body := range cases {
		m := NewManager(writeFile(t, name, body))
		m.SetEnvLookup(noEnv)
		cfg, err := m.Load()
		require.NoError(t, err, name)
		assert.True(t, cfg.Slack.Enabled, name)
		assert.Equal(t, "xoxb", cfg.Slack.BotToken, name)
		assert.Equal(t, "UTC", cfg.Schedules.Timezone, name)
		assert.Same(t, cfg, m.Get())
		require.NoError(t, Validate(cfg, true), name)
	}
}

func TestParseIsStrict(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"slack":{"enabled":true,"tokn":"x"}}`))
	_, err := m.Parse()
	require.Error(t, err)

	m = NewManager(writeFile(t, "config.json", `{} {}`))
	_, err = m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvAhrefsKey:     "ahrefs-key",
		EnvSlackToken:    "xoxb-alias",
		EnvSlackAppToken: "xapp-env",
		EnvTelegramToken: "",
	}
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"enabled":true,"token":"file-token"},"ahrefs":{"token":"file"}}`))
	m.SetEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "ahrefs-key", cfg.Ahrefs.Token)
	assert.Equal(t, "xoxb-alias", cfg.Slack.BotToken)
	assert.Equal(t, "xapp-env", cfg.Slack.AppToken)
	assert.Equal(t, "file-token", cfg.Telegram.Token)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Slack:     SlackConfig{Enabled: true},
		Chat:      ChatConfig{DefaultPlatform: "telegram"},
		Schedules: SchedulesConfig{Timezone: "Mars/Olympus", RunTimeout: "soon"},
		Logging:   LoggingConfig{Chat: LoggingChat{Enabled: true}},
		Debug:     DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"},
		Storage:   &StorageConfig{Driver: "sqlite"},
	}
	err := Validate(cfg, true)
	require.Error(t, err)
	for _, want := range []string{
		"slack.bot_token", "slack.app_token", "default_platform=telegram",
		"schedules.timezone", "schedules.run_timeout", "logging.chat.target",
		"not loopback", "storage.path",
	} {
		assert.Contains(t, err.Error(), want)
	}

	assert.Error(t, Validate(&Config{}, true))
	assert.NoError(t, Validate(&Config{}, false))
	assert.NoError(t, Validate(&Config{Debug: DebugConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"}}, false))
}

func TestSummarizeNeverLeaksSecrets(t *testing.T) {
	t.Parallel()
	old := &Config{Slack: SlackConfig{Enabled: true, BotToken: "xoxb-old"}}
	cur := &Config{
		Slack:     SlackConfig{Enabled: true, BotToken: "xoxb-new"},
		Schedules: SchedulesConfig{Timezone: "UTC"},
	}
	changed, attrs := SummarizeConfigChange(old, cur)
	assert.Equal(t, []string{"schedules", "slack"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(cur, cur)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"schedules":{"path":"a.json"}}`)
	m := NewManager(path)
	m.SetEnvLookup(noEnv)
	m.SetLogger(logx.Nop())
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg, false) })
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	// Rejected by the validator: not published.
	require.NoError(t, os.WriteFile(path, []byte(`{"schedules":{"timezone":"Nowhere/Land"}}`), 0o644))
	time.Sleep(600 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("invalid config published")
	default:
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"schedules":{"timezone":"UTC"}}`), 0o644))
	select {
	case cfg := <-ch:
		assert.Equal(t, "UTC", cfg.Schedules.Timezone)
	case <-time.After(3 * time.Second):
		t.Fatal("config not published")
	}
}
