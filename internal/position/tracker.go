// Package position interprets the exchange's net position for a symbol.
package position

import (
	"context"

	"github.com/alkahfi23/aibottrading/internal/core"
)

// Tracker is a read-only view over the gateway's position endpoint. The
// exchange is the source of truth; nothing is cached, because fills and
// manual intervention can change the position between cycles.
type Tracker struct {
	gateway core.IGateway
}

// NewTracker creates a tracker backed by the given gateway.
func NewTracker(gateway core.IGateway) *Tracker {
	return &Tracker{gateway: gateway}
}

// Current returns the interpreted net position for symbol. A positive signed
// amount is LONG, negative is SHORT, zero is FLAT.
func (t *Tracker) Current(ctx context.Context, symbol string) (*core.Position, error) {
	info, err := t.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}

	pos := &core.Position{
		Symbol:     symbol,
		Side:       core.SideFlat,
		Quantity:   info.Amount.Abs(),
		EntryPrice: info.EntryPrice,
		MarkPrice:  info.MarkPrice,
	}
	switch info.Amount.Sign() {
	case 1:
		pos.Side = core.SideLong
	case -1:
		pos.Side = core.SideShort
	}
	return pos, nil
}

// HasOpposing reports whether the current exposure opposes the intended side.
func (t *Tracker) HasOpposing(ctx context.Context, symbol string, intended core.Side) (bool, error) {
	pos, err := t.Current(ctx, symbol)
	if err != nil {
		return false, err
	}
	return pos.Side.IsDirectional() && pos.Side != intended, nil
}
