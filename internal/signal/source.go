// Package signal implements a kline-driven signal source with a higher
// timeframe trend confirmation and an ATR volatility estimate.
package signal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/core"
)

// KlineSource derives a directional decision from recent candles: an EMA
// crossover on the trading interval gives the side, the same crossover on
// the confirmation interval gates it, and ATR scales the exit distances.
// Any other producer of core.Signal can replace it.
type KlineSource struct {
	gateway         core.IGateway
	logger          core.ILogger
	interval        string
	confirmInterval string
	cfg             config.SignalConfig
}

// NewKlineSource creates the built-in signal source.
func NewKlineSource(gateway core.IGateway, logger core.ILogger, interval, confirmInterval string, cfg config.SignalConfig) *KlineSource {
	return &KlineSource{
		gateway:         gateway,
		logger:          logger.WithField("component", "kline_source"),
		interval:        interval,
		confirmInterval: confirmInterval,
		cfg:             cfg,
	}
}

// Evaluate computes the signal for one symbol. It returns SideNone when no
// direction is clear; the sequencer treats that as a free no-op.
func (s *KlineSource) Evaluate(ctx context.Context, symbol string) (*core.Signal, error) {
	candles, err := s.gateway.GetKlines(ctx, symbol, s.interval, s.cfg.Lookback)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines: %w", s.interval, err)
	}
	candles = closedOnly(candles)
	if len(candles) < s.cfg.SlowEMA+1 {
		return nil, fmt.Errorf("insufficient candles for %s: got %d, need %d", symbol, len(candles), s.cfg.SlowEMA+1)
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	side := trendSide(closes, s.cfg.FastEMA, s.cfg.SlowEMA)

	sig := &core.Signal{
		Symbol: symbol,
		Side:   side,
		Price:  closes[len(closes)-1],
		ATR:    ATR(candles, s.cfg.ATRWindow),
	}
	if !side.IsDirectional() {
		return sig, nil
	}

	confirmCandles, err := s.gateway.GetKlines(ctx, symbol, s.confirmInterval, s.cfg.Lookback)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines: %w", s.confirmInterval, err)
	}
	confirmCandles = closedOnly(confirmCandles)
	if len(confirmCandles) >= s.cfg.SlowEMA+1 {
		confirmCloses := make([]decimal.Decimal, len(confirmCandles))
		for i, c := range confirmCandles {
			confirmCloses[i] = c.Close
		}
		sig.TrendConfirmed = trendSide(confirmCloses, s.cfg.FastEMA, s.cfg.SlowEMA) == side
	}

	s.logger.Debug("Signal evaluated",
		"symbol", symbol,
		"side", string(sig.Side),
		"price", sig.Price,
		"atr", sig.ATR,
		"trend_confirmed", sig.TrendConfirmed)

	return sig, nil
}

// closedOnly strips a trailing in-progress bar so the decision always reads
// finalized closes.
func closedOnly(candles []*core.Candle) []*core.Candle {
	if n := len(candles); n > 0 && !candles[n-1].IsClosed {
		return candles[:n-1]
	}
	return candles
}

func trendSide(closes []decimal.Decimal, fastWindow, slowWindow int) core.Side {
	fast := EMA(closes, fastWindow)
	slow := EMA(closes, slowWindow)
	switch {
	case fast.GreaterThan(slow):
		return core.SideLong
	case fast.LessThan(slow):
		return core.SideShort
	}
	return core.SideNone
}

// EMA computes an exponential moving average over the series, seeded with
// the simple mean of the first window.
func EMA(values []decimal.Decimal, window int) decimal.Decimal {
	if len(values) == 0 || window <= 0 {
		return decimal.Zero
	}
	if len(values) < window {
		window = len(values)
	}

	sum := decimal.Zero
	for _, v := range values[:window] {
		sum = sum.Add(v)
	}
	ema := sum.Div(decimal.NewFromInt(int64(window)))

	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(window + 1)))
	one := decimal.NewFromInt(1)
	for _, v := range values[window:] {
		ema = v.Mul(k).Add(ema.Mul(one.Sub(k)))
	}
	return ema
}

// ATR computes the Average True Range over the trailing window: the mean of
// max(high-low, |high-prevClose|, |low-prevClose|) per bar.
func ATR(candles []*core.Candle, window int) decimal.Decimal {
	if len(candles) < 2 || window <= 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	count := 0
	for i := len(candles) - 1; i > 0 && count < window; i-- {
		cur, prev := candles[i], candles[i-1]
		tr := cur.High.Sub(cur.Low)
		if hc := cur.High.Sub(prev.Close).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := cur.Low.Sub(prev.Close).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
		count++
	}
	if count < window {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}
