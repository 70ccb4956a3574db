package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/instrument"
	"github.com/alkahfi23/aibottrading/internal/mock"
	"github.com/alkahfi23/aibottrading/internal/position"
	"github.com/alkahfi23/aibottrading/internal/risk"
	apperrors "github.com/alkahfi23/aibottrading/pkg/errors"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.QuoteAsset = "USDT"
	cfg.Risk = config.RiskConfig{
		MaxMarginFraction:   0.8,
		RiskPctFloor:        0.005,
		RiskPctCeil:         0.02,
		LeverageFloor:       1,
		LeverageCeil:        20,
		BalanceFloor:        50,
		BalanceCeil:         1000,
		StopATRMultiplier:   1.5,
		RewardATRMultiplier: 2.5,
		MinProfitMargin:     0.005,
	}
	return cfg
}

func newTestSequencer(t *testing.T, gw *mock.Gateway, cfg *config.Config) *Sequencer {
	t.Helper()
	logger := &mockLogger{}
	return NewSequencer(
		gw,
		instrument.NewResolver(gw, logger),
		position.NewTracker(gw),
		risk.NewSizer(cfg.Risk),
		logger,
		cfg,
	)
}

func seedGateway() *mock.Gateway {
	gw := mock.NewGateway()
	gw.SetBalance("USDT", decimal.NewFromInt(1000))
	gw.SetFilters(btcFilters())
	return gw
}

func longSignal() *core.Signal {
	return &core.Signal{
		Symbol:         "BTCUSDT",
		Side:           core.SideLong,
		Price:          decimal.NewFromInt(100),
		ATR:            decimal.NewFromInt(2),
		TrendConfirmed: true,
	}
}

func TestSequencer_HappyPathLong(t *testing.T) {
	gw := seedGateway()
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeSuccess, report.Outcome)
	assert.Equal(t, "DONE", report.StateReached)
	assert.Empty(t, report.MissingLegs)
	assert.False(t, report.EntrySkipped)

	// Exactly one market entry plus the two protective legs.
	entries := gw.SubmittedOfType(core.OrderTypeMarket)
	require.Len(t, entries, 1)
	assert.Equal(t, core.OrderSideBuy, entries[0].Side)
	assert.False(t, entries[0].ReduceOnly)

	// balance=1000 -> risk 2%, leverage 20. Stop 97 gives a 3% stop
	// distance: notional 20/0.03*20 ~= 13333, qty ~= 133.333.
	assert.True(t, entries[0].Quantity.Equal(decimal.RequireFromString("133.333")),
		"got %s", entries[0].Quantity)

	sls := gw.SubmittedOfType(core.OrderTypeStopMarket)
	require.Len(t, sls, 1)
	assert.True(t, sls[0].StopPrice.Equal(decimal.NewFromInt(97)))
	assert.True(t, sls[0].ClosePosition)
	assert.Equal(t, core.OrderSideSell, sls[0].Side)

	tps := gw.SubmittedOfType(core.OrderTypeTakeProfitMarket)
	require.Len(t, tps, 1)
	assert.True(t, tps[0].StopPrice.Equal(decimal.NewFromInt(105)))

	assert.Equal(t, 1, gw.LeverageCalls["BTCUSDT"])
}

func TestSequencer_TrailingLegWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Trailing = config.TrailingConfig{Enabled: true, CallbackRate: 1.0, ActivationOffset: 0.01}
	gw := seedGateway()
	sq := newTestSequencer(t, gw, cfg)

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeSuccess, report.Outcome)
	trailing := gw.SubmittedOfType(core.OrderTypeTrailingStop)
	require.Len(t, trailing, 1)
	assert.True(t, trailing[0].ActivationPrice.Equal(decimal.NewFromInt(101)))
}

func TestSequencer_AbortsBeforeEntryMakeNoWrites(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(gw *mock.Gateway, sig *core.Signal)
		reason core.AbortReason
	}{
		{
			name:   "no directional signal",
			mutate: func(_ *mock.Gateway, sig *core.Signal) { sig.Side = core.SideNone },
			reason: core.ReasonNoSignal,
		},
		{
			name:   "trend veto",
			mutate: func(_ *mock.Gateway, sig *core.Signal) { sig.TrendConfirmed = false },
			reason: core.ReasonTrendVeto,
		},
		{
			name: "metadata unavailable",
			mutate: func(gw *mock.Gateway, _ *core.Signal) {
				gw.MethodErrs["GetInstrumentFilters"] = apperrors.ErrGatewayTimeout
			},
			reason: core.ReasonMetadataUnavailable,
		},
		{
			name: "position unavailable",
			mutate: func(gw *mock.Gateway, _ *core.Signal) {
				gw.MethodErrs["GetPosition"] = apperrors.ErrGatewayTimeout
			},
			reason: core.ReasonPositionUnavailable,
		},
		{
			name: "balance unavailable",
			mutate: func(gw *mock.Gateway, _ *core.Signal) {
				gw.MethodErrs["GetBalance"] = apperrors.ErrGatewayTimeout
			},
			reason: core.ReasonBalanceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := seedGateway()
			sig := longSignal()
			tc.mutate(gw, sig)

			sq := newTestSequencer(t, gw, testConfig())
			report := sq.Run(context.Background(), sig)

			assert.Equal(t, core.OutcomeAborted, report.Outcome)
			assert.Equal(t, tc.reason, report.Reason)
			assert.Equal(t, 0, gw.WriteCalls(), "an abort before entry must not touch the exchange")
		})
	}
}

func TestSequencer_TooSmallAborts(t *testing.T) {
	gw := seedGateway()
	gw.SetBalance("USDT", decimal.NewFromInt(60))
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeAborted, report.Outcome)
	assert.Equal(t, core.ReasonTooSmall, report.Reason)
	assert.Equal(t, 0, gw.WriteCalls())
}

func TestSequencer_IdempotentOnAlignedPosition(t *testing.T) {
	gw := seedGateway()
	gw.SetPosition("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(100))
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeSuccess, report.Outcome)
	assert.True(t, report.EntrySkipped)
	assert.Equal(t, 0, gw.WriteCalls(), "a repeated aligned signal must not duplicate exposure")
}

func TestSequencer_RefreshExitsOnAlignedPosition(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.RefreshExits = true
	gw := seedGateway()
	gw.SetPosition("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(100))
	gw.SetOpenOrders("BTCUSDT", []*core.OpenOrder{{OrderID: 7, Type: core.OrderTypeStopMarket}})
	sq := newTestSequencer(t, gw, cfg)

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeSuccess, report.Outcome)
	assert.True(t, report.EntrySkipped)

	// The stale stop was cancelled and a fresh protective set installed,
	// with no new entry.
	assert.ElementsMatch(t, []int64{7}, gw.Cancelled)
	assert.Empty(t, gw.SubmittedOfType(core.OrderTypeMarket))
	assert.Len(t, gw.SubmittedOfType(core.OrderTypeStopMarket), 1)
	assert.Len(t, gw.SubmittedOfType(core.OrderTypeTakeProfitMarket), 1)
}

func TestSequencer_OpposingPositionClosedFirst(t *testing.T) {
	gw := seedGateway()
	gw.SetPosition("BTCUSDT", decimal.NewFromInt(-2), decimal.NewFromInt(110), decimal.NewFromInt(100))
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeSuccess, report.Outcome)

	markets := gw.SubmittedOfType(core.OrderTypeMarket)
	require.Len(t, markets, 2)

	// First the reduce-only flatten, then the entry.
	assert.True(t, markets[0].ReduceOnly)
	assert.Equal(t, core.OrderSideBuy, markets[0].Side)
	assert.True(t, markets[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.False(t, markets[1].ReduceOnly)
}

// orderRecordingGateway records the ordering of balance reads and order
// submissions across a run.
type orderRecordingGateway struct {
	*mock.Gateway
	calls []string
}

func (g *orderRecordingGateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	g.calls = append(g.calls, "balance")
	return g.Gateway.GetBalance(ctx, asset)
}

func (g *orderRecordingGateway) SubmitOrder(ctx context.Context, intent *core.OrderIntent) (*core.OrderAck, error) {
	label := "submit:" + string(intent.Type)
	if intent.ReduceOnly {
		label = "submit:reduce_only_close"
	}
	g.calls = append(g.calls, label)
	return g.Gateway.SubmitOrder(ctx, intent)
}

func TestSequencer_OpposingCloseBeforeBalanceRead(t *testing.T) {
	gw := seedGateway()
	gw.SetPosition("BTCUSDT", decimal.NewFromInt(-2), decimal.NewFromInt(110), decimal.NewFromInt(100))
	rec := &orderRecordingGateway{Gateway: gw}

	logger := &mockLogger{}
	cfg := testConfig()
	sq := NewSequencer(rec,
		instrument.NewResolver(rec, logger),
		position.NewTracker(rec),
		risk.NewSizer(cfg.Risk),
		logger, cfg)

	report := sq.Run(context.Background(), longSignal())
	require.Equal(t, core.OutcomeSuccess, report.Outcome)

	// The short's margin only frees up once the flatten lands, so sizing the
	// long from a pre-flatten balance would undersize or oversize it.
	require.GreaterOrEqual(t, len(rec.calls), 3)
	assert.Equal(t, []string{
		"submit:reduce_only_close",
		"balance",
		"submit:" + string(core.OrderTypeMarket),
	}, rec.calls[:3])
}

func TestSequencer_EntryTimeoutIsUnknownNotRetried(t *testing.T) {
	gw := seedGateway()
	gw.SubmitErrs[core.OrderTypeMarket] = apperrors.ErrGatewayTimeout
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeAborted, report.Outcome)
	assert.Equal(t, core.ReasonEntryUnknown, report.Reason)
	// No protective orders for a position that may not exist.
	assert.Empty(t, gw.SubmittedOfType(core.OrderTypeStopMarket))
	assert.Empty(t, gw.SubmittedOfType(core.OrderTypeTakeProfitMarket))
}

func TestSequencer_EntryRejectedAborts(t *testing.T) {
	gw := seedGateway()
	gw.SubmitErrs[core.OrderTypeMarket] = apperrors.ErrGatewayRejected
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	assert.Equal(t, core.OutcomeAborted, report.Outcome)
	assert.Equal(t, core.ReasonEntryRejected, report.Reason)
}

func TestSequencer_SLRejectedStillPlacesTP(t *testing.T) {
	gw := seedGateway()
	gw.SubmitErrs[core.OrderTypeStopMarket] = apperrors.ErrGatewayRejected
	sq := newTestSequencer(t, gw, testConfig())

	report := sq.Run(context.Background(), longSignal())

	// The entry stands; the sequence records the missing leg and moves on.
	assert.Equal(t, core.OutcomePartialSuccess, report.Outcome)
	assert.Equal(t, []core.Leg{core.LegStopLoss}, report.MissingLegs)
	require.Len(t, gw.SubmittedOfType(core.OrderTypeMarket), 1)
	assert.Len(t, gw.SubmittedOfType(core.OrderTypeTakeProfitMarket), 1)
}
