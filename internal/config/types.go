package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings (e.g. "500ms", "15s", "2m").
type Config struct {
	City     CityConfig     `json:"city"`
	Source   SourceConfig   `json:"source"`
	Ingest   IngestConfig   `json:"ingest"`
	Fanout   FanoutConfig   `json:"fanout"`
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	API      APIConfig      `json:"api"`
	Logging  LoggingConfig  `json:"logging"`
}

// CityConfig describes the single tracked municipality.
type CityConfig struct {
	Name string `json:"name"`
	// Queues is the closed set of valid queue identifiers offered to users.
	Queues []string `json:"queues"`
	// Timezone is the IANA zone used to compute date keys.
	Timezone string `json:"timezone"`
}

type SourceConfig struct {
	URL          string `json:"url"`
	TomorrowPath string `json:"tomorrow_path,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

type IngestConfig struct {
	CheckIntervalMinutes int `json:"check_interval_minutes"`
	// Parallelism bounds how many queues one cycle processes at once.
	Parallelism int `json:"parallelism,omitempty"`
}

// FanoutConfig controls change notification delivery.
type FanoutConfig struct {
	MaxConcurrency int    `json:"max_concurrency"`
	RatePerSec     int    `json:"rate_per_sec"`
	RetryMax       int    `json:"retry_max"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
}

type TelegramConfig struct {
	// Token is usually supplied via OUTAGEBOT_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminChatID receives warn+ log lines when logging.telegram is enabled.
	AdminChatID int64 `json:"admin_chat_id,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/outagebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// APIConfig controls the read-only status HTTP server.
//
// Prefer binding to localhost; there is no authentication.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
