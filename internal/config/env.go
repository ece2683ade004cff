package config

import (
	"os"
	"strings"
)

// Environment variables that override secrets in the file. The names match
// what the bot has always read.
const (
	EnvAhrefsKey     = "AHREFS_API_KEY"
	EnvSlackBotToken = "SLACK_BOT_TOKEN"
	EnvSlackToken    = "SLACK_TOKEN" // alias of SLACK_BOT_TOKEN
	EnvSlackAppToken = "SLACK_APP_TOKEN"
	EnvTelegramToken = "TELEGRAM_TOKEN"
)

// ApplyEnv fills secrets from the environment. A non-empty variable wins over
// the file value. lookup is os.LookupEnv when nil.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	if v := get(EnvAhrefsKey); v != "" {
		cfg.Ahrefs.Token = v
	}
	if v := get(EnvSlackBotToken, EnvSlackToken); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := get(EnvSlackAppToken); v != "" {
		cfg.Slack.AppToken = v
	}
	if v := get(EnvTelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
}
