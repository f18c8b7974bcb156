package bridge

import "github.com/shopspring/decimal"

// LotSizePolicy implements the fixed (not risk-based) lot sizing rule of
// spec §4.1 calculateLotSize: clamp MT4_DEFAULT_LOT_SIZE into
// [MT4_MIN_LOT_SIZE, MT4_MAX_LOT_SIZE] and floor-quantize to two decimals.
// The public Client.CalculateLotSize takes no arguments: it accepts no
// user, symbol or trade amount, and the size never depends on them.
type LotSizePolicy struct {
	Default decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// NewLotSizePolicy builds a policy from float config values.
func NewLotSizePolicy(def, min, max float64) LotSizePolicy {
	return LotSizePolicy{
		Default: decimal.NewFromFloat(def),
		Min:     decimal.NewFromFloat(min),
		Max:     decimal.NewFromFloat(max),
	}
}

// Clamp returns the fixed lot size, clamped into [Min, Max] and
// floor-quantized to two decimal places.
func (p LotSizePolicy) Clamp() decimal.Decimal {
	lot := p.Default
	if lot.LessThan(p.Min) {
		lot = p.Min
	}
	if lot.GreaterThan(p.Max) {
		lot = p.Max
	}
	return lot.Truncate(2)
}
