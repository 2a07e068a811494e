package router

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tickstream/capture/internal/feed"
	"github.com/tickstream/capture/internal/model"
)

func rawEvent(v model.Variant, payload string) feed.RawEvent {
	return feed.RawEvent{
		Variant:    v,
		ContractID: "CON.F.US.MNQ.M25",
		Payload:    json.RawMessage(payload),
		ReceivedAt: time.Now(),
	}
}

func TestParseQuote(t *testing.T) {
	raw := rawEvent(model.VariantQuote, `{
		"symbol": "MNQ",
		"bestBid": 18001.25,
		"bestAsk": 18001.50,
		"lastPrice": 18001.25,
		"volume": 12345,
		"timestamp": "2025-06-02T14:30:00.123456Z"
	}`)

	events, err := parseEvents(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Variant != model.VariantQuote || ev.Quote == nil {
		t.Fatalf("wrong variant shape: %+v", ev)
	}
	if ev.Quote.BestBid != 18001.25 || ev.Quote.BestAsk != 18001.50 {
		t.Errorf("book = %v/%v", ev.Quote.BestBid, ev.Quote.BestAsk)
	}
	if ev.Quote.Symbol != "MNQ" || ev.Quote.Volume != 12345 {
		t.Errorf("symbol/volume = %q/%d", ev.Quote.Symbol, ev.Quote.Volume)
	}
	want := time.Date(2025, 6, 2, 14, 30, 0, 123456000, time.UTC).UnixMicro()
	if ev.ExchangeTS != want {
		t.Errorf("ExchangeTS = %d, want %d", ev.ExchangeTS, want)
	}
	if ev.ContractID != "CON.F.US.MNQ.M25" {
		t.Errorf("contract = %q", ev.ContractID)
	}
}

func TestParseQuote_LastUpdatedFallback(t *testing.T) {
	raw := rawEvent(model.VariantQuote, `{"bestBid": 1, "lastUpdated": "2025-06-02T14:30:00Z"}`)

	events, err := parseEvents(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if events[0].ExchangeTS == 0 {
		t.Error("lastUpdated not used as timestamp fallback")
	}
}

func TestParseTrades_FanOut(t *testing.T) {
	raw := rawEvent(model.VariantTrade, `[
		{"symbolId": "F.US.MNQ", "price": 18001.25, "volume": 2, "type": 0, "timestamp": "2025-06-02T14:30:00Z"},
		{"symbolId": "F.US.MNQ", "price": 18001.50, "volume": 1, "type": 1, "timestamp": "2025-06-02T14:30:01Z"}
	]`)

	events, err := parseEvents(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	buy, sell := events[0], events[1]
	if !buy.Trade.IsBuy || buy.Trade.Sequence != 0 {
		t.Errorf("first trade = %+v, want buy at sequence 0", buy.Trade)
	}
	if sell.Trade.IsBuy || sell.Trade.Sequence != 1 {
		t.Errorf("second trade = %+v, want sell at sequence 1", sell.Trade)
	}

	// Each record keeps its own array element as raw payload.
	var probe struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(sell.Raw, &probe); err != nil || probe.Price != 18001.50 {
		t.Errorf("raw payload not the array element: %s", sell.Raw)
	}
}

func TestParseDepth_SideMapping(t *testing.T) {
	raw := rawEvent(model.VariantDepth, `[
		{"price": 18001.50, "volume": 10, "currentVolume": 8, "type": 3},
		{"price": 18001.25, "volume": 12, "currentVolume": 12, "type": 4},
		{"price": 18001.25, "volume": 1, "type": 5},
		{"price": 18001.00, "volume": 1, "type": 9}
	]`)

	events, err := parseEvents(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}

	wantSides := []string{"ask", "bid", "trade", ""}
	for i, want := range wantSides {
		if got := events[i].Depth.Side; got != want {
			t.Errorf("entry %d side = %q, want %q", i, got, want)
		}
		if events[i].Depth.LevelRank != i {
			t.Errorf("entry %d rank = %d", i, events[i].Depth.LevelRank)
		}
	}
	if events[0].Depth.CurrentVolume != 8 {
		t.Errorf("currentVolume = %d", events[0].Depth.CurrentVolume)
	}
}

func TestParseEvents_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  feed.RawEvent
	}{
		{"quote not object", rawEvent(model.VariantQuote, `[1,2]`)},
		{"trades not array", rawEvent(model.VariantTrade, `{"price": 1}`)},
		{"depth bad entry", rawEvent(model.VariantDepth, `[{"price": "NaN"}]`)},
		{"garbage", rawEvent(model.VariantTrade, `not json`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseEvents(tc.raw); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		zero bool
	}{
		{"2025-06-02T14:30:00Z", false},
		{"2025-06-02T14:30:00.123456+00:00", false},
		{"2025-06-02T14:30:00.123456", false}, // no zone, taken as UTC
		{"", true},
		{"yesterday", true},
	}
	for _, tc := range cases {
		got := parseTimestamp(tc.in)
		if (got == 0) != tc.zero {
			t.Errorf("parseTimestamp(%q) = %d", tc.in, got)
		}
	}

	// Zoneless and suffixed forms of the same instant agree.
	a := parseTimestamp("2025-06-02T14:30:00.5Z")
	b := parseTimestamp("2025-06-02T14:30:00.5")
	if a != b {
		t.Errorf("zoneless parse differs: %d vs %d", a, b)
	}
}
