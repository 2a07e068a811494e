package config

import "time"

// CaptureConfig is the root configuration for a capture instance.
type CaptureConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Feed       FeedConfig       `yaml:"feed"`
	Database   DBConfig         `yaml:"database"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Validation ValidationConfig `yaml:"validation"`
	Governor   GovernorConfig   `yaml:"governor"`
	Session    SessionConfig    `yaml:"session"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// InstanceConfig identifies this capture process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds the market data hub connection settings.
type FeedConfig struct {
	HubURL     string `yaml:"hub_url"`
	APIToken   string `yaml:"api_token"`
	ContractID string `yaml:"contract_id"`

	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`

	// Per-variant toggles. Pointers so an absent key defaults to enabled.
	EnableQuotes *bool `yaml:"enable_quotes"`
	EnableTrades *bool `yaml:"enable_trades"`
	EnableDepth  *bool `yaml:"enable_depth"`
}

// QuotesEnabled reports whether quote capture is on (default true).
func (f *FeedConfig) QuotesEnabled() bool { return f.EnableQuotes == nil || *f.EnableQuotes }

// TradesEnabled reports whether trade capture is on (default true).
func (f *FeedConfig) TradesEnabled() bool { return f.EnableTrades == nil || *f.EnableTrades }

// DepthEnabled reports whether depth capture is on (default true).
func (f *FeedConfig) DepthEnabled() bool { return f.EnableDepth == nil || *f.EnableDepth }

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// OverflowPolicy selects queue behavior when full.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// PipelineConfig holds queue and batch writer settings.
type PipelineConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	QueueCapacity  int            `yaml:"queue_capacity"`
	QueueSoftBytes int            `yaml:"queue_soft_bytes"`
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`
	BlockTimeout   time.Duration  `yaml:"block_timeout"`
}

// ValidationConfig holds per-record validation settings.
type ValidationConfig struct {
	// TimestampTolerance is how far an exchange timestamp may regress behind
	// the per-variant high-water mark before the record is rejected.
	TimestampTolerance time.Duration `yaml:"timestamp_tolerance"`
}

// GovernorConfig holds memory governor settings.
type GovernorConfig struct {
	MemoryThresholdMB int           `yaml:"memory_threshold_mb"`
	CheckInterval     time.Duration `yaml:"check_interval"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// Duration bounds the capture run; 0 means run until interrupted.
	Duration time.Duration `yaml:"duration"`
}

// TelemetryConfig holds snapshot reporting and metrics endpoint settings.
type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`
	Port     int           `yaml:"port"`
	Path     string        `yaml:"path"`
}
