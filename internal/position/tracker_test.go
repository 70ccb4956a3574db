package position

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/mock"
)

func TestTracker_SignInterpretation(t *testing.T) {
	gw := mock.NewGateway()
	tr := NewTracker(gw)
	ctx := context.Background()

	// No seeded position: flat with zero quantity.
	pos, err := tr.Current(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, core.SideFlat, pos.Side)
	assert.True(t, pos.Quantity.IsZero())

	gw.SetPosition("BTCUSDT", decimal.RequireFromString("0.5"), decimal.NewFromInt(100), decimal.NewFromInt(101))
	pos, err = tr.Current(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, core.SideLong, pos.Side)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100)))

	gw.SetPosition("BTCUSDT", decimal.RequireFromString("-0.5"), decimal.NewFromInt(100), decimal.NewFromInt(99))
	pos, err = tr.Current(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, core.SideShort, pos.Side)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.5")), "quantity is always unsigned")
}

func TestTracker_HasOpposing(t *testing.T) {
	gw := mock.NewGateway()
	tr := NewTracker(gw)
	ctx := context.Background()

	opposing, err := tr.HasOpposing(ctx, "BTCUSDT", core.SideLong)
	require.NoError(t, err)
	assert.False(t, opposing, "flat never opposes")

	gw.SetPosition("BTCUSDT", decimal.NewFromInt(-1), decimal.NewFromInt(100), decimal.NewFromInt(100))
	opposing, err = tr.HasOpposing(ctx, "BTCUSDT", core.SideLong)
	require.NoError(t, err)
	assert.True(t, opposing)

	opposing, err = tr.HasOpposing(ctx, "BTCUSDT", core.SideShort)
	require.NoError(t, err)
	assert.False(t, opposing)
}
