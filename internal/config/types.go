package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage is the record store backing per-group boss collections.
	Storage StorageConfig `json:"storage"`

	// Reminder controls the pre-respawn notification timing.
	Reminder ReminderConfig `json:"reminder"`

	// Digest optionally reposts each group's boss table on a cron schedule.
	Digest *DigestConfig `json:"digest,omitempty"`

	// HTTP exposes the read/write record view consumed by the external
	// roster editor. Disabled unless configured.
	HTTP *HTTPConfig `json:"http,omitempty"`

	// Editor holds the external editor's base URL, used in /setpw replies.
	Editor EditorConfig `json:"editor"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
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

// StorageConfig selects the record store driver.
//
// Driver values:
//   - "file":   per-group JSON directories (default)
//   - "sqlite": single SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReminderConfig. All durations are Go duration strings.
//
// Defaults (when omitted): lead_time "5m", min_delay "1s", session_ttl "24h".
type ReminderConfig struct {
	// LeadTime is how long before the computed respawn the reminder fires.
	LeadTime string `json:"lead_time"`
	// MinDelay is the wait used when the fire time is already in the past;
	// a late reminder still fires once.
	MinDelay string `json:"min_delay"`
	// SessionTTL bounds how long an un-acted confirm/undo keyboard stays live.
	SessionTTL string `json:"session_ttl"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a standard 5-field cron expression, e.g. "0 9 * * *".
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8480"
}

type EditorConfig struct {
	BaseURL string `json:"base_url,omitempty"`
}

// NotifierConfig controls the async announcement pipeline.
type NotifierConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
