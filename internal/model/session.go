package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StopReason records why a capture session ended.
type StopReason string

const (
	StopUserRequested   StopReason = "user-requested"
	StopDurationExpired StopReason = "duration-expired"
	StopFatalConnection StopReason = "fatal-connection-failure"
)

// VariantCounts holds one counter per event variant.
type VariantCounts struct {
	Quotes int64
	Trades int64
	Depth  int64
}

// Total returns the sum across variants.
func (c VariantCounts) Total() int64 {
	return c.Quotes + c.Trades + c.Depth
}

// Add increments the counter for the given variant.
func (c *VariantCounts) Add(v Variant, n int64) {
	switch v {
	case VariantQuote:
		c.Quotes += n
	case VariantTrade:
		c.Trades += n
	case VariantDepth:
		c.Depth += n
	}
}

// Session is one bounded capture run. It is created at pipeline start,
// mutated only by the session manager, and write-once after finalization.
type Session struct {
	ID         string
	ContractID string
	StartTS    int64 // µs since epoch
	EndTS      int64 // µs since epoch, 0 while active
	Reason     StopReason

	// Counters, filled in at finalization. Received counts every parsed
	// event, including ones the validator later rejects; unparseable wire
	// messages are tracked separately (ParseErrors) since they cannot be
	// attributed to a variant.
	Received    VariantCounts // Parsed events entering the pipeline
	Committed   VariantCounts // Events durably written
	Rejected    int64         // Validation rejections
	Dropped     int64         // Queue overflow evictions and block timeouts
	Lost        int64         // Batch events lost after retry exhaustion
	ParseErrors int64         // Wire messages that failed to parse
}

// NewSessionID derives a session identifier from the start timestamp plus a
// short random suffix so concurrent processes never collide.
func NewSessionID(start time.Time) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("session_%s_%s", start.UTC().Format("20060102_150405"), suffix)
}

// Finalized reports whether the session has been closed out.
func (s *Session) Finalized() bool {
	return s.EndTS != 0
}

// Reconciles verifies the counter invariant: every received event is either
// committed or accounted for in a reject/drop/lost counter.
func (s *Session) Reconciles() bool {
	return s.Committed.Total()+s.Rejected+s.Dropped+s.Lost == s.Received.Total()
}
