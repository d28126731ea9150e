package config

// Config is the whole on-disk configuration. Durations are Go duration strings.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
	Browser   BrowserConfig   `json:"browser"`
	Network   NetworkConfig   `json:"network"`
	Sites     SitesConfig     `json:"sites"`
	SignIn    SignInConfig    `json:"signin"`
}

// TelegramConfig controls the chat transport. An empty token switches the
// process to the log-only transport.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// NotifyChatID receives run summaries. Falls back to the first owner.
	NotifyChatID   int64 `json:"notify_chat_id,omitempty"`
	NotifyThreadID int   `json:"notify_thread_id,omitempty"`
	// LogChatID receives log lines when logging.telegram.enabled is set.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification queue.
//
// Defaults: workers 1, queue_size 64, rate_per_sec 1, retry_max 3, retry_base "1s".
type NotifierConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

// StorageConfig selects the KV driver for sign-in state.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/signbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	URL         string `json:"url,omitempty"`          // redis, postgres
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
}

// HTTPConfig controls the local API (single-site trigger, history, metrics).
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8087"
	// Token, when set, is required as a bearer token on /api routes.
	Token string `json:"token,omitempty"`
	// Pprof mounts net/http/pprof under /debug, behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

// BrowserConfig controls the render path used for sites flagged for browser rendering.
type BrowserConfig struct {
	Driver   string `json:"driver,omitempty"` // "chromedp" (default), "rod" or "none"
	ExecPath string `json:"exec_path,omitempty"`
	Headful  bool   `json:"headful,omitempty"`
	Timeout  string `json:"timeout,omitempty"` // default "60s"
	// MaxTabs bounds concurrently running browsers. Default 2.
	MaxTabs int `json:"max_tabs,omitempty"`
}

// NetworkConfig holds the outbound HTTP settings shared by site adapters.
type NetworkConfig struct {
	// Proxy is used for sites flagged with proxy=true, e.g. "http://127.0.0.1:7890".
	Proxy   string `json:"proxy,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "30s"
}

type SitesConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch,omitempty"`
}

// SignInConfig is the operator surface of the sign-in service. OnlyOnce and
// Clean are consumed and reset by the service.
type SignInConfig struct {
	Enabled    bool   `json:"enabled"`
	Cron       string `json:"cron,omitempty"`
	OnlyOnce   bool   `json:"onlyonce,omitempty"`
	Notify     bool   `json:"notify"`
	QueueCount int    `json:"queue_cnt,omitempty"`
	SignSites  []int  `json:"sign_sites,omitempty"`
	// RetryKeyword is a regular expression over result messages. An explicit
	// empty string disables pattern matching.
	RetryKeyword string `json:"retry_keyword"`
	Clean        bool   `json:"clean,omitempty"`
}

const (
	DefaultQueueCount   = 5
	DefaultRetryKeyword = "错误|失败"
)

// Default is the base every config file is decoded onto, so keys that are
// absent keep these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file", Path: "./data/signbot.json"},
		Sites:   SitesConfig{Path: "./sites.yaml"},
		SignIn: SignInConfig{
			Notify:       true,
			QueueCount:   DefaultQueueCount,
			RetryKeyword: DefaultRetryKeyword,
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Telegram.OwnerUserIDs = append([]int64(nil), c.Telegram.OwnerUserIDs...)
	cp.SignIn = c.SignIn.Clone()
	return &cp
}

func (s SignInConfig) Clone() SignInConfig {
	cp := s
	if s.SignSites != nil {
		cp.SignSites = append([]int{}, s.SignSites...)
	}
	return cp
}

// Workers returns the configured queue count, defaulting to 5.
func (s SignInConfig) Workers() int {
	if s.QueueCount <= 0 {
		return DefaultQueueCount
	}
	return s.QueueCount
}
