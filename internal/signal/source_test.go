package signal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/mock"
)

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{})               {}
func (l *nopLogger) Info(msg string, fields ...interface{})                {}
func (l *nopLogger) Warn(msg string, fields ...interface{})                {}
func (l *nopLogger) Error(msg string, fields ...interface{})               {}
func (l *nopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *nopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{Lookback: 50, ATRWindow: 5, FastEMA: 5, SlowEMA: 10}
}

// trendCandles builds n bars walking from start by step per bar.
func trendCandles(n int, start, step float64) []*core.Candle {
	candles := make([]*core.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		c := decimal.NewFromFloat(price)
		candles[i] = &core.Candle{
			Symbol:    "BTCUSDT",
			Open:      c,
			High:      c.Add(decimal.NewFromInt(1)),
			Low:       c.Sub(decimal.NewFromInt(1)),
			Close:     c,
			Volume:    decimal.NewFromInt(10),
			CloseTime: time.Now().Add(time.Duration(i-n) * time.Minute),
			IsClosed:  true,
		}
		price += step
	}
	return candles
}

func TestEMA_ConstantSeries(t *testing.T) {
	values := make([]decimal.Decimal, 30)
	for i := range values {
		values[i] = decimal.NewFromInt(100)
	}
	assert.True(t, EMA(values, 10).Equal(decimal.NewFromInt(100)))
}

func TestEMA_TracksRisingSeries(t *testing.T) {
	values := make([]decimal.Decimal, 30)
	for i := range values {
		values[i] = decimal.NewFromInt(int64(100 + i))
	}
	fast := EMA(values, 5)
	slow := EMA(values, 20)
	assert.True(t, fast.GreaterThan(slow), "fast=%s slow=%s", fast, slow)
}

func TestATR_RangeOnly(t *testing.T) {
	// Flat closes with a constant 2-point bar range: ATR is exactly 2.
	candles := trendCandles(10, 100, 0)
	atr := ATR(candles, 5)
	assert.True(t, atr.Equal(decimal.NewFromInt(2)), "got %s", atr)
}

func TestATR_InsufficientData(t *testing.T) {
	assert.True(t, ATR(trendCandles(3, 100, 0), 5).IsZero())
	assert.True(t, ATR(nil, 5).IsZero())
}

func TestEvaluate_UptrendConfirmed(t *testing.T) {
	gw := mock.NewGateway()
	gw.SetKlines("BTCUSDT", "1m", trendCandles(50, 100, 1))
	gw.SetKlines("BTCUSDT", "15m", trendCandles(50, 100, 1))

	src := NewKlineSource(gw, &nopLogger{}, "1m", "15m", testSignalConfig())
	sig, err := src.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, core.SideLong, sig.Side)
	assert.True(t, sig.TrendConfirmed)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(149)))
	assert.True(t, sig.ATR.Sign() > 0)
}

func TestEvaluate_DowntrendVetoedByHigherTimeframe(t *testing.T) {
	gw := mock.NewGateway()
	gw.SetKlines("BTCUSDT", "1m", trendCandles(50, 150, -1))
	gw.SetKlines("BTCUSDT", "15m", trendCandles(50, 100, 1))

	src := NewKlineSource(gw, &nopLogger{}, "1m", "15m", testSignalConfig())
	sig, err := src.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, core.SideShort, sig.Side)
	assert.False(t, sig.TrendConfirmed)
}

func TestEvaluate_InProgressBarIgnored(t *testing.T) {
	gw := mock.NewGateway()
	candles := trendCandles(51, 100, 1)
	last := candles[len(candles)-1]
	last.IsClosed = false
	last.Close = decimal.NewFromInt(500) // mid-bar print, must not leak into the signal
	gw.SetKlines("BTCUSDT", "1m", candles)
	gw.SetKlines("BTCUSDT", "15m", trendCandles(50, 100, 1))

	src := NewKlineSource(gw, &nopLogger{}, "1m", "15m", testSignalConfig())
	sig, err := src.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, core.SideLong, sig.Side)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(149)), "got %s", sig.Price)
}

func TestEvaluate_InsufficientCandles(t *testing.T) {
	gw := mock.NewGateway()
	gw.SetKlines("BTCUSDT", "1m", trendCandles(5, 100, 1))

	src := NewKlineSource(gw, &nopLogger{}, "1m", "15m", testSignalConfig())
	_, err := src.Evaluate(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
