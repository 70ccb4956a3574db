// Package risk converts account state and volatility into bounded order sizes.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/core"
	apperrors "github.com/alkahfi23/aibottrading/pkg/errors"
)

// Sizer computes position sizes and derives protective levels from ATR.
// All mappings are pure and deterministic; balance and leverage inputs are
// read fresh by the caller every cycle.
type Sizer struct {
	cfg config.RiskConfig
}

// NewSizer creates a sizer from the risk configuration.
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// DynamicLeverage maps account balance to leverage, linearly interpolated
// between the configured floor and ceiling across the balance band.
func (s *Sizer) DynamicLeverage(balance decimal.Decimal) int {
	lo := decimal.NewFromFloat(s.cfg.BalanceFloor)
	hi := decimal.NewFromFloat(s.cfg.BalanceCeil)

	if balance.LessThanOrEqual(lo) {
		return s.cfg.LeverageFloor
	}
	if balance.GreaterThanOrEqual(hi) {
		return s.cfg.LeverageCeil
	}

	span := decimal.NewFromInt(int64(s.cfg.LeverageCeil - s.cfg.LeverageFloor))
	scaled := balance.Sub(lo).Mul(span).Div(hi.Sub(lo))
	lev := decimal.NewFromInt(int64(s.cfg.LeverageFloor)).Add(scaled)
	return int(lev.Round(0).IntPart())
}

// DynamicRiskPct maps account balance to the per-trade risk fraction using
// the same linear interpolation as leverage: small accounts risk less.
func (s *Sizer) DynamicRiskPct(balance decimal.Decimal) decimal.Decimal {
	lo := decimal.NewFromFloat(s.cfg.BalanceFloor)
	hi := decimal.NewFromFloat(s.cfg.BalanceCeil)
	rLo := decimal.NewFromFloat(s.cfg.RiskPctFloor)
	rHi := decimal.NewFromFloat(s.cfg.RiskPctCeil)

	if balance.LessThanOrEqual(lo) {
		return rLo
	}
	if balance.GreaterThanOrEqual(hi) {
		return rHi
	}

	scaled := balance.Sub(lo).Mul(rHi.Sub(rLo)).Div(hi.Sub(lo))
	return rLo.Add(scaled).Round(4)
}

// PositionSize converts balance, risk fraction, stop distance and leverage
// into an order quantity. The notional is capped at
// balance*maxMarginFraction*leverage so risk math alone can never exhaust
// the account's margin.
func (s *Sizer) PositionSize(balance, riskPct, entry, stop decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if balance.Sign() <= 0 || entry.Sign() <= 0 || stop.Sign() < 0 || leverage < 1 {
		return decimal.Zero, fmt.Errorf("%w: balance=%s entry=%s stop=%s leverage=%d",
			apperrors.ErrInvalidInput, balance, entry, stop, leverage)
	}
	if riskPct.Sign() <= 0 || riskPct.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: riskPct=%s outside (0,1]", apperrors.ErrInvalidInput, riskPct)
	}

	stopDistancePct := entry.Sub(stop).Abs().Div(entry)
	if stopDistancePct.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: entry %s equals stop %s", apperrors.ErrDegenerateStop, entry, stop)
	}

	lev := decimal.NewFromInt(int64(leverage))
	riskAmount := balance.Mul(riskPct)
	notional := riskAmount.Div(stopDistancePct).Mul(lev)

	maxNotional := balance.Mul(decimal.NewFromFloat(s.cfg.MaxMarginFraction)).Mul(lev)
	if notional.GreaterThan(maxNotional) {
		notional = maxNotional
	}

	return notional.Div(entry), nil
}

// DeriveStop computes an ATR-scaled stop level on the losing side of entry.
func (s *Sizer) DeriveStop(side core.Side, entry, atr decimal.Decimal) decimal.Decimal {
	dist := atr.Mul(decimal.NewFromFloat(s.cfg.StopATRMultiplier))
	if side == core.SideShort {
		return entry.Add(dist)
	}
	return entry.Sub(dist)
}

// DeriveTarget computes the take-profit level: at least minProfitMargin away
// from entry, scaled up by ATR when volatility allows.
func (s *Sizer) DeriveTarget(side core.Side, entry, atr decimal.Decimal) decimal.Decimal {
	dist := atr.Mul(decimal.NewFromFloat(s.cfg.RewardATRMultiplier))
	floor := entry.Mul(decimal.NewFromFloat(s.cfg.MinProfitMargin))
	if dist.LessThan(floor) {
		dist = floor
	}
	if side == core.SideShort {
		return entry.Sub(dist)
	}
	return entry.Add(dist)
}

// ValidStop reports whether stop is strictly on the losing side of entry for
// the given direction. A level that fails this check must be skipped, never
// flipped.
func ValidStop(side core.Side, entry, stop decimal.Decimal) bool {
	if stop.Sign() <= 0 {
		return false
	}
	if side == core.SideShort {
		return stop.GreaterThan(entry)
	}
	return stop.LessThan(entry)
}

// ValidTarget reports whether target is strictly on the winning side of entry.
func ValidTarget(side core.Side, entry, target decimal.Decimal) bool {
	if target.Sign() <= 0 {
		return false
	}
	if side == core.SideShort {
		return target.LessThan(entry)
	}
	return target.GreaterThan(entry)
}
