package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tickstream/capture/internal/feed"
	"github.com/tickstream/capture/internal/model"
)

// Wire payload shapes as delivered by the market hub.

type quotePayload struct {
	Symbol      string  `json:"symbol"`
	BestBid     float64 `json:"bestBid"`
	BestAsk     float64 `json:"bestAsk"`
	LastPrice   float64 `json:"lastPrice"`
	Volume      int64   `json:"volume"`
	Timestamp   string  `json:"timestamp"`
	LastUpdated string  `json:"lastUpdated"`
}

type tradePayload struct {
	SymbolID  string  `json:"symbolId"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Type      int     `json:"type"`
	Timestamp string  `json:"timestamp"`
}

type depthPayload struct {
	Price         float64 `json:"price"`
	Volume        int64   `json:"volume"`
	CurrentVolume int64   `json:"currentVolume"`
	Type          int     `json:"type"`
	Timestamp     string  `json:"timestamp"`
}

// parseEvents turns one raw feed event into typed records. Quote payloads
// are single objects; trade and depth payloads are arrays that fan out into
// one record per element.
func parseEvents(raw feed.RawEvent) ([]model.Event, error) {
	switch raw.Variant {
	case model.VariantQuote:
		ev, err := parseQuote(raw)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil
	case model.VariantTrade:
		return parseTrades(raw)
	case model.VariantDepth:
		return parseDepth(raw)
	default:
		return nil, fmt.Errorf("unknown variant %d", raw.Variant)
	}
}

func parseQuote(raw feed.RawEvent) (model.Event, error) {
	var p quotePayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return model.Event{}, fmt.Errorf("quote payload: %w", err)
	}

	ts := parseTimestamp(p.Timestamp)
	if ts == 0 {
		ts = parseTimestamp(p.LastUpdated)
	}

	return model.Event{
		Variant:    model.VariantQuote,
		ReceivedAt: raw.ReceivedAt,
		ExchangeTS: ts,
		ContractID: raw.ContractID,
		Raw:        raw.Payload,
		Quote: &model.QuoteFields{
			Symbol:    p.Symbol,
			BestBid:   p.BestBid,
			BestAsk:   p.BestAsk,
			LastPrice: p.LastPrice,
			Volume:    p.Volume,
		},
	}, nil
}

func parseTrades(raw feed.RawEvent) ([]model.Event, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw.Payload, &entries); err != nil {
		return nil, fmt.Errorf("trade payload: %w", err)
	}

	events := make([]model.Event, 0, len(entries))
	for i, entry := range entries {
		var p tradePayload
		if err := json.Unmarshal(entry, &p); err != nil {
			return nil, fmt.Errorf("trade entry %d: %w", i, err)
		}
		events = append(events, model.Event{
			Variant:    model.VariantTrade,
			ReceivedAt: raw.ReceivedAt,
			ExchangeTS: parseTimestamp(p.Timestamp),
			ContractID: raw.ContractID,
			Raw:        entry,
			Trade: &model.TradeFields{
				SymbolID: p.SymbolID,
				Price:    p.Price,
				Volume:   p.Volume,
				Type:     p.Type,
				IsBuy:    p.Type == 0,
				Sequence: i,
			},
		})
	}
	return events, nil
}

func parseDepth(raw feed.RawEvent) ([]model.Event, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw.Payload, &entries); err != nil {
		return nil, fmt.Errorf("depth payload: %w", err)
	}

	events := make([]model.Event, 0, len(entries))
	for i, entry := range entries {
		var p depthPayload
		if err := json.Unmarshal(entry, &p); err != nil {
			return nil, fmt.Errorf("depth entry %d: %w", i, err)
		}
		events = append(events, model.Event{
			Variant:    model.VariantDepth,
			ReceivedAt: raw.ReceivedAt,
			ExchangeTS: parseTimestamp(p.Timestamp),
			ContractID: raw.ContractID,
			Raw:        entry,
			Depth: &model.DepthFields{
				Price:         p.Price,
				Volume:        p.Volume,
				CurrentVolume: p.CurrentVolume,
				Type:          p.Type,
				Side:          depthSide(p.Type),
				LevelRank:     i,
			},
		})
	}
	return events, nil
}

// depthSide maps the feed update type code to a book side.
func depthSide(typ int) string {
	switch typ {
	case 3:
		return "ask"
	case 4:
		return "bid"
	case 5:
		return "trade"
	default:
		return ""
	}
}

// parseTimestamp converts a feed timestamp string to µs since epoch. The
// feed emits RFC 3339 with varying precision, sometimes without a zone
// suffix (taken as UTC). Returns 0 when absent or unparseable.
func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMicro()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC().UnixMicro()
	}
	return 0
}
