package model

import (
	"encoding/json"
	"time"
)

// Variant identifies the kind of market data event.
type Variant int

const (
	VariantQuote Variant = iota
	VariantTrade
	VariantDepth
)

// String returns the variant name used in logs and table routing.
func (v Variant) String() string {
	switch v {
	case VariantQuote:
		return "quote"
	case VariantTrade:
		return "trade"
	case VariantDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// Variants lists all variants in routing order.
var Variants = []Variant{VariantQuote, VariantTrade, VariantDepth}

// Event is a single market data record. The envelope fields are common to
// all variants; exactly one of Quote, Trade, or Depth is non-nil and matches
// Variant. Events are immutable once constructed.
type Event struct {
	Variant    Variant
	ReceivedAt time.Time       // Local timestamp when the feed delivered the record
	ExchangeTS int64           // Exchange timestamp (µs since epoch), 0 if absent
	ContractID string          // Contract identifier (e.g., "CON.F.US.MNQ.M25")
	Raw        json.RawMessage // Original wire payload for this record

	Quote *QuoteFields
	Trade *TradeFields
	Depth *DepthFields
}

// QuoteFields carries top-of-book state from a quote update.
type QuoteFields struct {
	Symbol    string
	BestBid   float64
	BestAsk   float64
	LastPrice float64
	Volume    int64 // Cumulative session volume
}

// TradeFields carries a single executed trade.
type TradeFields struct {
	SymbolID string
	Price    float64
	Volume   int64
	Type     int  // 0 = buy aggressor, 1 = sell aggressor
	IsBuy    bool // Derived from Type
	Sequence int  // Position within the wire message that carried this trade
}

// DepthFields carries one order book level change.
type DepthFields struct {
	Price         float64
	Volume        int64
	CurrentVolume int64
	Type          int    // Feed update type code (3 = ask, 4 = bid, 5 = trade)
	Side          string // "ask", "bid", or "trade", derived from Type
	LevelRank     int    // Position within the wire message
}

// SizeEstimate returns an approximate in-memory footprint in bytes, used by
// the ingestion queue's soft byte accounting. It only needs to be stable and
// roughly proportional to the real cost.
func (e *Event) SizeEstimate() int {
	const envelope = 128
	return envelope + len(e.ContractID) + len(e.Raw)
}
