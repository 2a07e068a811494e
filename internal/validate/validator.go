package validate

import (
	"fmt"
	"time"

	"github.com/tickstream/capture/internal/model"
)

// RejectionError describes why a record failed validation.
type RejectionError struct {
	Variant model.Variant
	Reason  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Variant, e.Reason)
}

func reject(v model.Variant, format string, args ...any) error {
	return &RejectionError{Variant: v, Reason: fmt.Sprintf(format, args...)}
}

// Validator applies sanity checks to parsed events. It tracks a per-variant
// exchange-timestamp high-water mark so regressions beyond the tolerance
// window are rejected. Not safe for concurrent use; the router owns one.
type Validator struct {
	tolerance time.Duration

	// Highest accepted exchange timestamp per variant, µs since epoch.
	highWater [3]int64

	checked  int64
	rejected int64
}

// New creates a validator. tolerance is the window within which out-of-order
// exchange timestamps are still accepted.
func New(tolerance time.Duration) *Validator {
	return &Validator{tolerance: tolerance}
}

// Check validates one event. A nil return means accepted; a non-nil return
// is always a *RejectionError. Accepted events advance the timestamp
// high-water mark for their variant.
func (v *Validator) Check(ev *model.Event) error {
	v.checked++

	err := v.check(ev)
	if err != nil {
		v.rejected++
		return err
	}

	if ev.ExchangeTS > v.highWater[ev.Variant] {
		v.highWater[ev.Variant] = ev.ExchangeTS
	}
	return nil
}

func (v *Validator) check(ev *model.Event) error {
	if ev.ContractID == "" {
		return reject(ev.Variant, "missing contract id")
	}

	switch ev.Variant {
	case model.VariantQuote:
		if err := v.checkQuote(ev.Quote); err != nil {
			return err
		}
	case model.VariantTrade:
		if err := v.checkTrade(ev.Trade); err != nil {
			return err
		}
	case model.VariantDepth:
		if err := v.checkDepth(ev.Depth); err != nil {
			return err
		}
	default:
		return reject(ev.Variant, "unknown variant")
	}

	// Out-of-order delivery is tolerated within the window; anything older
	// is rejected rather than corrected.
	if ev.ExchangeTS > 0 && v.highWater[ev.Variant] > 0 {
		if lag := v.highWater[ev.Variant] - ev.ExchangeTS; lag > v.tolerance.Microseconds() {
			return reject(ev.Variant, "exchange timestamp regressed %dµs beyond tolerance", lag)
		}
	}
	return nil
}

func (v *Validator) checkQuote(q *model.QuoteFields) error {
	if q == nil {
		return reject(model.VariantQuote, "missing quote fields")
	}
	if q.BestBid < 0 || q.BestAsk < 0 || q.LastPrice < 0 {
		return reject(model.VariantQuote, "negative price")
	}
	// Quotes are partial updates; at least one price must carry data.
	if q.BestBid == 0 && q.BestAsk == 0 && q.LastPrice == 0 {
		return reject(model.VariantQuote, "no price fields present")
	}
	if q.Volume < 0 {
		return reject(model.VariantQuote, "negative volume")
	}
	return nil
}

func (v *Validator) checkTrade(t *model.TradeFields) error {
	if t == nil {
		return reject(model.VariantTrade, "missing trade fields")
	}
	if t.Price <= 0 {
		return reject(model.VariantTrade, "non-positive price %v", t.Price)
	}
	if t.Volume <= 0 {
		return reject(model.VariantTrade, "non-positive volume %d", t.Volume)
	}
	if t.Type != 0 && t.Type != 1 {
		return reject(model.VariantTrade, "unknown aggressor type %d", t.Type)
	}
	return nil
}

func (v *Validator) checkDepth(d *model.DepthFields) error {
	if d == nil {
		return reject(model.VariantDepth, "missing depth fields")
	}
	if d.Price <= 0 {
		return reject(model.VariantDepth, "non-positive price %v", d.Price)
	}
	// Zero volume is a level removal and is valid.
	if d.Volume < 0 || d.CurrentVolume < 0 {
		return reject(model.VariantDepth, "negative volume")
	}
	if d.Side == "" {
		return reject(model.VariantDepth, "unknown update type %d", d.Type)
	}
	return nil
}

// Stats reports check/reject totals.
func (v *Validator) Stats() (checked, rejected int64) {
	return v.checked, v.rejected
}
