package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Delivery controls the notification delivery engine: throttling,
	// retry draining and batch scheduling.
	Delivery DeliveryConfig `json:"delivery"`

	// Storage enables the optional delivery journal.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// SendRatePerSec caps outbound Bot API calls at the transport, below
	// Telegram's own flood limits. 0 keeps the default (25/s).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeliveryConfig controls the delivery engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DeliveryConfig struct {
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
}

// RateLimitConfig bounds sends per scope within a fixed window.
type RateLimitConfig struct {
	// RequestsPerSecond is the per-scope cap per window, 1..100.
	// The name is historical; the actual period is Window.
	RequestsPerSecond int `json:"requests_per_second"`

	// Window is a Go duration string, minimum "100ms". Empty means "1s".
	Window string `json:"window,omitempty"`
}

type SchedulerConfig struct {
	// MaxBatchSize caps notifications dispatched per drain tick. 0 means 10.
	MaxBatchSize int `json:"max_batch_size,omitempty"`

	// ProcessingInterval is the drain tick period. Empty means "1s".
	ProcessingInterval string `json:"processing_interval,omitempty"`
}

type DispatcherConfig struct {
	// DeliveryTimeout bounds a single transport attempt. Empty means "10s".
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`

	// RetryDrainInterval is the retry-queue sweep period. Empty means "1s".
	RetryDrainInterval string `json:"retry_drain_interval,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
