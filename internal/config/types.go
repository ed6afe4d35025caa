package config

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	MTProto      MTProtoConfig      `json:"mtproto"`
	Rotation     RotationConfig     `json:"rotation"`
	Logging      LoggingConfig      `json:"logging"`
	Notifier     *NotifierConfig    `json:"notifier,omitempty"`
	Storage      StorageConfig      `json:"storage"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the numeric chat id receiving rotation notices.
	GroupLog    string `json:"group_log"`
	LogThreadID int    `json:"log_thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// MTProtoConfig holds the application credentials used for user sessions.
// They come from my.telegram.org and are shared by every stored session.
type MTProtoConfig struct {
	AppID       int    `json:"app_id"`
	AppHash     string `json:"app_hash"`
	CallTimeout string `json:"call_timeout,omitempty"` // default 30s
}

// RotationConfig tunes the per-channel rotation workers.
//
// Defaults:
//   - min_interval: "30s"
//   - rate_limit_pad: "5s"
//   - max_attempts: 5
type RotationConfig struct {
	MinInterval  string `json:"min_interval,omitempty"`
	RateLimitPad string `json:"rate_limit_pad,omitempty"`
	MaxAttempts  int    `json:"max_attempts,omitempty"`
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
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	// PersistDedup keeps suppression windows in storage across restarts.
	PersistDedup bool `json:"persist_dedup"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./linkrotor.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/linkrotor" }
type StorageConfig struct {
	Driver         string `json:"driver"`
	Path           string `json:"path,omitempty"`
	DSN            string `json:"dsn,omitempty"`
	BusyTimeout    string `json:"busy_timeout,omitempty"`    // sqlite only
	AuditRetention string `json:"audit_retention,omitempty"` // default 720h
}

// HousekeepingConfig controls the cron jobs that maintain the store.
type HousekeepingConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// AuditPrune is a cron expression, default "@daily".
	AuditPrune string `json:"audit_prune,omitempty"`
}

// MetricsConfig controls the HTTP server exposing Prometheus metrics.
//
// Prefer binding to localhost; the endpoint has no authentication.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Path    string `json:"path,omitempty"` // default "/metrics"
	Pprof   bool   `json:"pprof,omitempty"`
}
