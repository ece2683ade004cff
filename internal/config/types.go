package config

// Config is the whole seobot configuration file. Secrets may be left empty
// and supplied through the environment (see ApplyEnv).
type Config struct {
	Slack     SlackConfig     `json:"slack"`
	Telegram  TelegramConfig  `json:"telegram"`
	Chat      ChatConfig      `json:"chat"`
	Ahrefs    AhrefsConfig    `json:"ahrefs"`
	Schedules SchedulesConfig `json:"schedules"`
	Reports   ReportsConfig   `json:"reports"`
	Logging   LoggingConfig   `json:"logging"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// SlackConfig uses Socket Mode: BotToken is the xoxb- token, AppToken the
// xapp- app-level token.
type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token,omitempty"`
	AppToken string `json:"app_token,omitempty"`
	Debug    bool   `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type ChatConfig struct {
	// DefaultPlatform receives destinations without a "<platform>:" prefix.
	// Defaults to the first enabled adapter, slack first.
	DefaultPlatform string `json:"default_platform,omitempty"`
	// AllowedUsers restricts who may run commands (platform user ids or
	// "<platform>:<id>"). Empty allows everyone.
	AllowedUsers        []string `json:"allowed_users,omitempty"`
	MaxConcurrentChecks int      `json:"max_concurrent_checks,omitempty"`
}

type AhrefsConfig struct {
	Token   string `json:"token,omitempty"`
	BaseURL string `json:"base_url,omitempty"` // default: https://api.ahrefs.com/v3/site-explorer
	// Timeout is a Go duration string; default "30s".
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Limit      int    `json:"limit,omitempty"` // rows per request, default 100
}

type SchedulesConfig struct {
	Path     string `json:"path"`               // default: ./schedules.json
	Timezone string `json:"timezone,omitempty"` // IANA TZ; empty means process local
	// RunTimeout bounds one scheduled occurrence; default "2m".
	RunTimeout   string `json:"run_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
	Watch        *bool  `json:"watch,omitempty"` // default true
	ForcePoll    bool   `json:"force_poll,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // default "2s"
	Debounce     string `json:"debounce,omitempty"`      // default "250ms"
}

// WatchEnabled reports whether the schedules file is watched for edits.
func (s SchedulesConfig) WatchEnabled() bool { return s.Watch == nil || *s.Watch }

type ReportsConfig struct {
	CacheTTL string `json:"cache_ttl,omitempty"` // default "1h"
	CacheMax int    `json:"cache_max,omitempty"`
	TopN     int    `json:"top_n,omitempty"` // broken links shown inline, default 10
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ log lines to Target ("<platform>:<channel>" or a
// channel on the default platform).
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:6060"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	MetricsPath   string `json:"metrics_path,omitempty"` // default: "/metrics"
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile (30s+) works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the audit log backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./seobot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
