package model

import (
	"strings"
	"testing"
	"time"
)

func TestVariantString(t *testing.T) {
	cases := []struct {
		v    Variant
		want string
	}{
		{VariantQuote, "quote"},
		{VariantTrade, "trade"},
		{VariantDepth, "depth"},
		{Variant(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("Variant(%d).String() = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestSizeEstimateGrowsWithPayload(t *testing.T) {
	small := &Event{ContractID: "C", Raw: []byte(`{}`)}
	large := &Event{ContractID: "C", Raw: []byte(strings.Repeat("x", 4096))}

	if small.SizeEstimate() >= large.SizeEstimate() {
		t.Errorf("SizeEstimate: small=%d >= large=%d", small.SizeEstimate(), large.SizeEstimate())
	}
}

func TestNewSessionID(t *testing.T) {
	start := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)

	id1 := NewSessionID(start)
	id2 := NewSessionID(start)

	if !strings.HasPrefix(id1, "session_20260828_143000_") {
		t.Errorf("session id %q missing timestamp prefix", id1)
	}
	if id1 == id2 {
		t.Errorf("two sessions with the same start collided: %q", id1)
	}
}

func TestSessionReconciles(t *testing.T) {
	s := Session{
		Received:  VariantCounts{Quotes: 10, Trades: 5, Depth: 3},
		Committed: VariantCounts{Quotes: 8, Trades: 5, Depth: 2},
		Rejected:  1,
		Dropped:   1,
		Lost:      1,
	}
	if !s.Reconciles() {
		t.Error("expected counters to reconcile")
	}

	s.Lost++
	if s.Reconciles() {
		t.Error("expected reconciliation failure after extra lost count")
	}
}

func TestVariantCountsAdd(t *testing.T) {
	var c VariantCounts
	c.Add(VariantQuote, 2)
	c.Add(VariantTrade, 3)
	c.Add(VariantDepth, 4)

	if c.Quotes != 2 || c.Trades != 3 || c.Depth != 4 {
		t.Errorf("counts = %+v", c)
	}
	if c.Total() != 9 {
		t.Errorf("Total() = %d, want 9", c.Total())
	}
}

func TestConnectionStateTerminal(t *testing.T) {
	for _, s := range []ConnectionState{StateDisconnected, StateConnecting, StateStreaming, StateReconnecting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []ConnectionState{StateFailed, StateClosed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
