package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHubURL               = "wss://rtc.thefuturesdesk.projectx.com/hubs/market"
	DefaultConnectionTimeout    = 30 * time.Second
	DefaultReadTimeout          = 60 * time.Second
	DefaultReconnectMaxAttempts = 5
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultBatchSize      = 500
	DefaultBatchTimeout   = 3 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 500 * time.Millisecond
	DefaultQueueCapacity  = 10000
	DefaultQueueSoftBytes = 64 << 20 // 64 MiB per variant
	DefaultBlockTimeout   = 5 * time.Second

	DefaultTimestampTolerance = 2 * time.Second

	DefaultMemoryThresholdMB = 2048
	DefaultCheckInterval     = 30 * time.Second

	DefaultTelemetryInterval = 60 * time.Second
	DefaultTelemetryPort     = 9090
	DefaultTelemetryPath     = "/metrics"
)

func (c *CaptureConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.HubURL == "" {
		c.Feed.HubURL = DefaultHubURL
	}
	if c.Feed.ConnectionTimeout == 0 {
		c.Feed.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}
	if c.Feed.ReconnectMaxAttempts == 0 {
		c.Feed.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Pipeline defaults
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = DefaultBatchSize
	}
	if c.Pipeline.BatchTimeout == 0 {
		c.Pipeline.BatchTimeout = DefaultBatchTimeout
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = DefaultMaxRetries
	}
	if c.Pipeline.RetryBackoff == 0 {
		c.Pipeline.RetryBackoff = DefaultRetryBackoff
	}
	if c.Pipeline.QueueCapacity == 0 {
		c.Pipeline.QueueCapacity = DefaultQueueCapacity
	}
	if c.Pipeline.QueueSoftBytes == 0 {
		c.Pipeline.QueueSoftBytes = DefaultQueueSoftBytes
	}
	if c.Pipeline.OverflowPolicy == "" {
		c.Pipeline.OverflowPolicy = OverflowBlock
	}
	if c.Pipeline.BlockTimeout == 0 {
		c.Pipeline.BlockTimeout = DefaultBlockTimeout
	}

	// Validation defaults
	if c.Validation.TimestampTolerance == 0 {
		c.Validation.TimestampTolerance = DefaultTimestampTolerance
	}

	// Governor defaults
	if c.Governor.MemoryThresholdMB == 0 {
		c.Governor.MemoryThresholdMB = DefaultMemoryThresholdMB
	}
	if c.Governor.CheckInterval == 0 {
		c.Governor.CheckInterval = DefaultCheckInterval
	}

	// Telemetry defaults
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = DefaultTelemetryInterval
	}
	if c.Telemetry.Port == 0 {
		c.Telemetry.Port = DefaultTelemetryPort
	}
	if c.Telemetry.Path == "" {
		c.Telemetry.Path = DefaultTelemetryPath
	}
}
