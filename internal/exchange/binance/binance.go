// Package binance provides USD-M futures connectivity through the official
// REST API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/core"
	apperrors "github.com/alkahfi23/aibottrading/pkg/errors"
	"github.com/alkahfi23/aibottrading/pkg/telemetry"
)

// Gateway implements core.IGateway for Binance USD-M futures.
//
// Reads run through a retry + circuit breaker pipeline. Writes get exactly one
// attempt: a retried write after an ambiguous failure could double a position,
// so ambiguity is surfaced as ErrGatewayTimeout and resolved by the next
// cycle's position read instead.
type Gateway struct {
	client    *futures.Client
	logger    core.ILogger
	limiter   *rate.Limiter
	readGuard failsafe.Executor[any]
	timeout   time.Duration
	latency   metric.Float64Histogram
}

// NewGateway creates a Binance futures gateway from config.
func NewGateway(cfg *config.ExchangeConfig, logger core.ILogger) *Gateway {
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, apperrors.ErrGatewayRejected)
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &Gateway{
		client:    client,
		logger:    logger.WithField("component", "binance_gateway"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		readGuard: failsafe.With[any](retryPolicy, breaker),
		timeout:   cfg.CallTimeout(),
		latency:   telemetry.GetGlobalMetrics().GatewayLatency,
	}
}

func (g *Gateway) GetName() string { return "binance" }

// read runs fn through the rate limiter, the per-call timeout and the
// resilience pipeline, classifying the final error.
func (g *Gateway) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := g.readGuard.Run(func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return classify(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		callErr := fn(callCtx)
		g.recordLatency(ctx, op, start)
		return classify(callErr)
	})
	return err
}

// write runs fn exactly once. No retries.
func (g *Gateway) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return classify(err)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	g.recordLatency(ctx, op, start)
	return classify(err)
}

func (g *Gateway) recordLatency(ctx context.Context, op string, start time.Time) {
	if g.latency == nil {
		return
	}
	g.latency.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("op", op)))
}

// classify maps transport and API failures onto the engine's error taxonomy.
// Anything where the request may have reached the exchange becomes
// ErrGatewayTimeout; a confirmed API rejection becomes ErrGatewayRejected.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Keep the context sentinel in the chain so retry logic can tell a
		// caller cancellation from a deadline.
		return fmt.Errorf("%w: %w", apperrors.ErrGatewayTimeout, err)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003:
			return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, apiErr.Message)
		case -2010, -2019:
			return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, apiErr.Message)
		case -1121:
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, apiErr.Message)
		case -2011, -2013:
			return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, apiErr.Message)
		}
		return fmt.Errorf("%w: code=%d msg=%s", apperrors.ErrGatewayRejected, apiErr.Code, apiErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", apperrors.ErrGatewayTimeout, err)
	}

	// Unknown transport failure: the request may or may not have landed.
	return fmt.Errorf("%w: %v", apperrors.ErrGatewayTimeout, err)
}

// isTransient reports whether a classified read error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, apperrors.ErrRateLimitExceeded) ||
		errors.Is(err, apperrors.ErrGatewayTimeout)
}

func (g *Gateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var balances []*futures.Balance
	err := g.read(ctx, "get_balance", func(ctx context.Context) error {
		var callErr error
		balances, callErr = g.client.NewGetBalanceService().Do(ctx)
		return callErr
	})
	if err != nil {
		return decimal.Zero, err
	}

	for _, b := range balances {
		if b.Asset != asset {
			continue
		}
		bal, parseErr := decimal.NewFromString(b.AvailableBalance)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("parsing %s balance %q: %w", asset, b.AvailableBalance, parseErr)
		}
		return bal, nil
	}
	return decimal.Zero, nil
}

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*core.PositionInfo, error) {
	var risks []*futures.PositionRisk
	err := g.read(ctx, "get_position", func(ctx context.Context) error {
		var callErr error
		risks, callErr = g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	info := &core.PositionInfo{Symbol: symbol}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amount, parseErr := decimal.NewFromString(r.PositionAmt)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing %s position amount %q: %w", symbol, r.PositionAmt, parseErr)
		}
		info.Amount = info.Amount.Add(amount)
		if entry, e := decimal.NewFromString(r.EntryPrice); e == nil && entry.Sign() > 0 {
			info.EntryPrice = entry
		}
		if mark, e := decimal.NewFromString(r.MarkPrice); e == nil && mark.Sign() > 0 {
			info.MarkPrice = mark
		}
	}
	return info, nil
}

func (g *Gateway) GetInstrumentFilters(ctx context.Context, symbol string) (*core.InstrumentFilters, error) {
	var info *futures.ExchangeInfo
	err := g.read(ctx, "exchange_info", func(ctx context.Context) error {
		var callErr error
		info, callErr = g.client.NewExchangeInfoService().Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		return mapFilters(s)
	}
	return nil, fmt.Errorf("%w: symbol %s not listed", apperrors.ErrInvalidSymbol, symbol)
}

// mapFilters extracts the granularity rules the engine needs from the raw
// symbol definition.
func mapFilters(s *futures.Symbol) (*core.InstrumentFilters, error) {
	f := &core.InstrumentFilters{Symbol: s.Symbol}

	lot := s.LotSizeFilter()
	if lot == nil {
		return nil, fmt.Errorf("symbol %s has no lot size filter", s.Symbol)
	}
	var err error
	if f.StepSize, err = decimal.NewFromString(lot.StepSize); err != nil {
		return nil, fmt.Errorf("parsing step size %q: %w", lot.StepSize, err)
	}
	if f.MinQty, err = decimal.NewFromString(lot.MinQuantity); err != nil {
		return nil, fmt.Errorf("parsing min quantity %q: %w", lot.MinQuantity, err)
	}

	price := s.PriceFilter()
	if price == nil {
		return nil, fmt.Errorf("symbol %s has no price filter", s.Symbol)
	}
	if f.TickSize, err = decimal.NewFromString(price.TickSize); err != nil {
		return nil, fmt.Errorf("parsing tick size %q: %w", price.TickSize, err)
	}

	if notional := s.MinNotionalFilter(); notional != nil {
		if f.MinNotional, err = decimal.NewFromString(notional.Notional); err != nil {
			return nil, fmt.Errorf("parsing min notional %q: %w", notional.Notional, err)
		}
	}
	return f, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]*core.OpenOrder, error) {
	var raw []*futures.Order
	err := g.read(ctx, "open_orders", func(ctx context.Context) error {
		var callErr error
		raw, callErr = g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	orders := make([]*core.OpenOrder, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, &core.OpenOrder{
			OrderID: o.OrderID,
			Type:    core.OrderType(o.Type),
		})
	}
	return orders, nil
}

func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*core.Candle, error) {
	var raw []*futures.Kline
	err := g.read(ctx, "klines", func(ctx context.Context) error {
		var callErr error
		raw, callErr = g.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	candles := make([]*core.Candle, 0, len(raw))
	for _, k := range raw {
		c := &core.Candle{
			Symbol:    symbol,
			CloseTime: time.UnixMilli(k.CloseTime),
		}
		c.IsClosed = c.CloseTime.Before(now)
		var parseErr error
		if c.Open, parseErr = decimal.NewFromString(k.Open); parseErr != nil {
			return nil, fmt.Errorf("parsing kline open %q: %w", k.Open, parseErr)
		}
		if c.High, parseErr = decimal.NewFromString(k.High); parseErr != nil {
			return nil, fmt.Errorf("parsing kline high %q: %w", k.High, parseErr)
		}
		if c.Low, parseErr = decimal.NewFromString(k.Low); parseErr != nil {
			return nil, fmt.Errorf("parsing kline low %q: %w", k.Low, parseErr)
		}
		if c.Close, parseErr = decimal.NewFromString(k.Close); parseErr != nil {
			return nil, fmt.Errorf("parsing kline close %q: %w", k.Close, parseErr)
		}
		if c.Volume, parseErr = decimal.NewFromString(k.Volume); parseErr != nil {
			return nil, fmt.Errorf("parsing kline volume %q: %w", k.Volume, parseErr)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, intent *core.OrderIntent) (*core.OrderAck, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(futures.SideType(intent.Side)).
		Type(futures.OrderType(intent.Type))

	if intent.ClientOrderID != "" {
		svc = svc.NewClientOrderID(intent.ClientOrderID)
	}
	if intent.Quantity.Sign() > 0 {
		svc = svc.Quantity(intent.Quantity.String())
	}
	if intent.StopPrice.Sign() > 0 {
		svc = svc.StopPrice(intent.StopPrice.String())
	}
	if intent.ActivationPrice.Sign() > 0 {
		svc = svc.ActivationPrice(intent.ActivationPrice.String())
	}
	if intent.CallbackRate.Sign() > 0 {
		svc = svc.CallbackRate(intent.CallbackRate.String())
	}
	if intent.ClosePosition {
		svc = svc.ClosePosition(true)
	}
	if intent.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	var resp *futures.CreateOrderResponse
	err := g.write(ctx, "submit_order", func(ctx context.Context) error {
		var callErr error
		resp, callErr = svc.Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &core.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return g.write(ctx, "cancel_order", func(ctx context.Context) error {
		_, callErr := g.client.NewCancelOrderService().
			Symbol(symbol).
			OrderID(orderID).
			Do(ctx)
		return callErr
	})
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.write(ctx, "set_leverage", func(ctx context.Context) error {
		_, callErr := g.client.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(leverage).
			Do(ctx)
		return callErr
	})
}
