package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alkahfi23/aibottrading/internal/core"
	apperrors "github.com/alkahfi23/aibottrading/pkg/errors"
)

// NormalizeQuantity rounds qty down to the nearest multiple of the symbol's
// step size. A result below the exchange minimum quantity is returned as
// zero, signaling "too small to trade". Pure function.
func NormalizeQuantity(f *core.InstrumentFilters, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative quantity %s", apperrors.ErrInvalidInput, qty)
	}
	if f.StepSize.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive step size %s for %s", apperrors.ErrInvalidInput, f.StepSize, f.Symbol)
	}

	normalized := qty.Div(f.StepSize).Floor().Mul(f.StepSize)
	if normalized.LessThan(f.MinQty) {
		return decimal.Zero, nil
	}
	return normalized, nil
}

// NormalizePrice floors price to the symbol's tick grid. Flooring (rather
// than rounding to nearest) keeps the result deterministic for both sides.
func NormalizePrice(f *core.InstrumentFilters, price decimal.Decimal) (decimal.Decimal, error) {
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price %s", apperrors.ErrInvalidInput, price)
	}
	if f.TickSize.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive tick size %s for %s", apperrors.ErrInvalidInput, f.TickSize, f.Symbol)
	}

	return price.Div(f.TickSize).Floor().Mul(f.TickSize), nil
}

// ValidateNotional reports whether qty*price satisfies the exchange's
// minimum notional requirement.
func ValidateNotional(f *core.InstrumentFilters, qty, price decimal.Decimal) bool {
	return qty.Mul(price).GreaterThanOrEqual(f.MinNotional)
}
