package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/risk"
)

// ExitPlan holds the protective orders derived for an open position. A nil
// leg was either not requested or failed side validation and is listed in
// Skipped; a skipped leg is never silently forced to trigger immediately.
type ExitPlan struct {
	StopLoss   *core.OrderIntent
	TakeProfit *core.OrderIntent
	Trailing   *core.OrderIntent
	Skipped    []core.Leg
}

// PlanExits derives stop-loss, take-profit and trailing-stop intents for a
// decision. Trigger prices are normalized to the tick grid and re-validated
// against the current mark price rather than the original entry, which may
// be stale by the time exits are placed.
func PlanExits(d *core.TradeDecision, markPrice decimal.Decimal, f *core.InstrumentFilters, activationOffset decimal.Decimal) (*ExitPlan, error) {
	plan := &ExitPlan{}
	exitSide := core.ExitOrderSide(d.Side)

	sl, err := NormalizePrice(f, d.StopLossPrice)
	if err != nil {
		return nil, err
	}
	if risk.ValidStop(d.Side, markPrice, sl) {
		plan.StopLoss = &core.OrderIntent{
			Symbol:        d.Symbol,
			Side:          exitSide,
			Type:          core.OrderTypeStopMarket,
			StopPrice:     sl,
			ClosePosition: true,
		}
	} else {
		plan.Skipped = append(plan.Skipped, core.LegStopLoss)
	}

	tp, err := NormalizePrice(f, d.TakeProfitPrice)
	if err != nil {
		return nil, err
	}
	if risk.ValidTarget(d.Side, markPrice, tp) {
		plan.TakeProfit = &core.OrderIntent{
			Symbol:        d.Symbol,
			Side:          exitSide,
			Type:          core.OrderTypeTakeProfitMarket,
			StopPrice:     tp,
			ClosePosition: true,
		}
	} else {
		plan.Skipped = append(plan.Skipped, core.LegTakeProfit)
	}

	if d.TrailingCallbackRate.Sign() > 0 {
		activation := activationPrice(d.Side, d.EntryPrice, activationOffset)
		activation, err = NormalizePrice(f, activation)
		if err != nil {
			return nil, err
		}
		// The activation price must sit on the winning side of the mark,
		// otherwise the order would arm immediately on submission.
		if risk.ValidTarget(d.Side, markPrice, activation) {
			plan.Trailing = &core.OrderIntent{
				Symbol:          d.Symbol,
				Side:            exitSide,
				Type:            core.OrderTypeTrailingStop,
				ActivationPrice: activation,
				CallbackRate:    d.TrailingCallbackRate,
				ClosePosition:   true,
			}
		} else {
			plan.Skipped = append(plan.Skipped, core.LegTrailing)
		}
	}

	return plan, nil
}

func activationPrice(side core.Side, entry, offset decimal.Decimal) decimal.Decimal {
	delta := entry.Mul(offset)
	if side == core.SideShort {
		return entry.Sub(delta)
	}
	return entry.Add(delta)
}

// CancelStaleExits cancels any open protective orders for the symbol. Exits
// left over from a prior cycle must never coexist with freshly planned ones;
// duplicate protective orders are a correctness bug. Individual cancel
// failures are logged and skipped so a new protection set can still go in.
func CancelStaleExits(ctx context.Context, gateway core.IGateway, symbol string, logger core.ILogger) (int, error) {
	orders, err := gateway.GetOpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range orders {
		if !o.Type.IsExitType() {
			continue
		}
		if err := gateway.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			logger.Warn("Failed to cancel stale exit order",
				"symbol", symbol,
				"order_id", o.OrderID,
				"type", o.Type,
				"error", err.Error())
			continue
		}
		cancelled++
	}
	return cancelled, nil
}
