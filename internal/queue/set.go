package queue

import (
	"github.com/tickstream/capture/internal/model"
)

// Set holds one bounded buffer per event variant so a slow consumer of one
// variant never blocks the others.
type Set struct {
	quotes *BoundedBuffer[model.Event]
	trades *BoundedBuffer[model.Event]
	depth  *BoundedBuffer[model.Event]
}

// NewSet creates per-variant buffers sharing one configuration.
func NewSet(cfg Config) *Set {
	sizeOf := func(e model.Event) int { return e.SizeEstimate() }
	return &Set{
		quotes: NewBounded(cfg, sizeOf),
		trades: NewBounded(cfg, sizeOf),
		depth:  NewBounded(cfg, sizeOf),
	}
}

// For returns the buffer for a variant.
func (s *Set) For(v model.Variant) *BoundedBuffer[model.Event] {
	switch v {
	case model.VariantQuote:
		return s.quotes
	case model.VariantTrade:
		return s.trades
	default:
		return s.depth
	}
}

// Close closes all buffers. Idempotent.
func (s *Set) Close() {
	s.quotes.Close()
	s.trades.Close()
	s.depth.Close()
}

// Depths returns current per-variant depths.
func (s *Set) Depths() model.VariantCounts {
	return model.VariantCounts{
		Quotes: int64(s.quotes.Len()),
		Trades: int64(s.trades.Len()),
		Depth:  int64(s.depth.Len()),
	}
}

// Dropped returns the total drop count across variants.
func (s *Set) Dropped() int64 {
	return s.quotes.Stats().Dropped + s.trades.Stats().Dropped + s.depth.Stats().Dropped
}

// Degraded reports whether any buffer hit a block timeout.
func (s *Set) Degraded() bool {
	return s.quotes.Stats().Degraded || s.trades.Stats().Degraded || s.depth.Stats().Degraded
}
