package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/mock"
)

func longDecision() *core.TradeDecision {
	return &core.TradeDecision{
		Symbol:          "BTCUSDT",
		Side:            core.SideLong,
		EntryPrice:      decimal.NewFromInt(100),
		StopLossPrice:   decimal.NewFromInt(97),
		TakeProfitPrice: decimal.NewFromInt(105),
	}
}

func TestPlanExits_LongBothLegs(t *testing.T) {
	f := btcFilters()
	d := longDecision()

	plan, err := PlanExits(d, decimal.NewFromInt(100), f, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, plan.StopLoss)
	require.NotNil(t, plan.TakeProfit)
	assert.Nil(t, plan.Trailing)
	assert.Empty(t, plan.Skipped)

	assert.Equal(t, core.OrderSideSell, plan.StopLoss.Side)
	assert.Equal(t, core.OrderTypeStopMarket, plan.StopLoss.Type)
	assert.True(t, plan.StopLoss.ClosePosition)
	assert.True(t, plan.StopLoss.StopPrice.Equal(decimal.NewFromInt(97)))

	assert.Equal(t, core.OrderSideSell, plan.TakeProfit.Side)
	assert.Equal(t, core.OrderTypeTakeProfitMarket, plan.TakeProfit.Type)
	assert.True(t, plan.TakeProfit.StopPrice.Equal(decimal.NewFromInt(105)))
}

func TestPlanExits_WrongSideStopIsSkippedNotFlipped(t *testing.T) {
	f := btcFilters()
	d := longDecision()

	// Price already moved below the stop: the stop would trigger instantly.
	// The leg must be skipped, never flipped to the other side.
	plan, err := PlanExits(d, decimal.NewFromInt(96), f, decimal.Zero)
	require.NoError(t, err)
	assert.Nil(t, plan.StopLoss)
	assert.Contains(t, plan.Skipped, core.LegStopLoss)
	require.NotNil(t, plan.TakeProfit)
}

func TestPlanExits_ShortMirrored(t *testing.T) {
	f := btcFilters()
	d := &core.TradeDecision{
		Symbol:          "BTCUSDT",
		Side:            core.SideShort,
		EntryPrice:      decimal.NewFromInt(100),
		StopLossPrice:   decimal.NewFromInt(103),
		TakeProfitPrice: decimal.NewFromInt(95),
	}

	plan, err := PlanExits(d, decimal.NewFromInt(100), f, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, plan.StopLoss)
	require.NotNil(t, plan.TakeProfit)
	assert.Equal(t, core.OrderSideBuy, plan.StopLoss.Side)
	assert.Equal(t, core.OrderSideBuy, plan.TakeProfit.Side)
}

func TestPlanExits_TrailingActivation(t *testing.T) {
	f := btcFilters()
	d := longDecision()
	d.TrailingCallbackRate = decimal.NewFromInt(1)

	plan, err := PlanExits(d, decimal.NewFromInt(100), f, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	require.NotNil(t, plan.Trailing)
	assert.Equal(t, core.OrderTypeTrailingStop, plan.Trailing.Type)
	assert.True(t, plan.Trailing.ActivationPrice.Equal(decimal.NewFromInt(101)), "got %s", plan.Trailing.ActivationPrice)
	assert.True(t, plan.Trailing.CallbackRate.Equal(decimal.NewFromInt(1)))
}

func TestPlanExits_TrailingSkippedWhenActivationBehindMark(t *testing.T) {
	f := btcFilters()
	d := longDecision()
	d.TrailingCallbackRate = decimal.NewFromInt(1)

	// Mark already above the activation level: the trailing order would arm
	// immediately, so the leg is skipped.
	plan, err := PlanExits(d, decimal.NewFromInt(102), f, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Nil(t, plan.Trailing)
	assert.Contains(t, plan.Skipped, core.LegTrailing)
}

func TestCancelStaleExits_OnlyExitOrders(t *testing.T) {
	gw := mock.NewGateway()
	gw.SetOpenOrders("BTCUSDT", []*core.OpenOrder{
		{OrderID: 1, Type: core.OrderTypeStopMarket},
		{OrderID: 2, Type: core.OrderTypeTakeProfitMarket},
		{OrderID: 3, Type: core.OrderTypeTrailingStop},
		{OrderID: 4, Type: "LIMIT"},
	})

	cancelled, err := CancelStaleExits(context.Background(), gw, "BTCUSDT", &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 3, cancelled)
	assert.ElementsMatch(t, []int64{1, 2, 3}, gw.Cancelled)

	remaining, err := gw.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(4), remaining[0].OrderID)
}
