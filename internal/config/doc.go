// Package config loads and validates the capture pipeline configuration.
//
// Configuration is a YAML file with ${VAR} environment expansion for
// secrets. Loading is split into Load (parse), applyDefaults, and Validate
// so each stage is testable on its own.
package config
