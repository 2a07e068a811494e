package model

import "time"

// ConnectionState is the feed connection lifecycle state. It is owned
// exclusively by the feed connection manager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateFailed
	StateClosed
)

// String returns the state name for logging.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// ResourceSample is a point-in-time resource measurement produced by the
// memory governor and consumed by the telemetry collector.
type ResourceSample struct {
	Timestamp  time.Time
	HeapMB     float64 // Process heap estimate in MiB
	QueueDepth VariantCounts
	TotalDepth int64
}
