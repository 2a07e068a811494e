package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *CaptureConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.APIToken == "" {
		return errors.New("feed.api_token is required")
	}
	if c.Feed.ContractID == "" {
		return errors.New("feed.contract_id is required")
	}
	if c.Feed.ReconnectMaxAttempts < 1 {
		return errors.New("feed.reconnect_max_attempts must be >= 1")
	}
	if !c.Feed.QuotesEnabled() && !c.Feed.TradesEnabled() && !c.Feed.DepthEnabled() {
		return errors.New("at least one of feed.enable_{quotes,trades,depth} must be true")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Pipeline.BatchSize < 1 {
		return errors.New("pipeline.batch_size must be >= 1")
	}
	if c.Pipeline.MaxRetries < 1 {
		return errors.New("pipeline.max_retries must be >= 1")
	}
	if c.Pipeline.QueueCapacity < 1 {
		return errors.New("pipeline.queue_capacity must be >= 1")
	}
	switch c.Pipeline.OverflowPolicy {
	case OverflowBlock, OverflowDropOldest:
	default:
		return fmt.Errorf("pipeline.overflow_policy must be %q or %q, got %q",
			OverflowBlock, OverflowDropOldest, c.Pipeline.OverflowPolicy)
	}

	if c.Governor.MemoryThresholdMB < 1 {
		return errors.New("governor.memory_threshold_mb must be >= 1")
	}

	if c.Session.Duration < 0 {
		return errors.New("session.duration cannot be negative")
	}

	if c.Telemetry.Port < 1 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("telemetry.port must be between 1 and 65535, got %d", c.Telemetry.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
