// Package mock provides a stateful in-memory gateway for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alkahfi23/aibottrading/internal/core"
)

// Gateway implements core.IGateway against in-memory state. Market orders
// fill instantly at the configured mark price so sequencer tests can observe
// position transitions without an exchange. Calls honor context cancellation
// the way a real transport would.
type Gateway struct {
	mu sync.Mutex

	balances   map[string]decimal.Decimal
	positions  map[string]*core.PositionInfo
	filters    map[string]*core.InstrumentFilters
	openOrders map[string][]*core.OpenOrder
	klines     map[string][]*core.Candle

	orderIDCounter int64

	// Recorded traffic
	Submitted     []*core.OrderIntent
	Cancelled     []int64
	LeverageCalls map[string]int

	// Failure injection
	SubmitErrs map[core.OrderType]error
	MethodErrs map[string]error
}

// NewGateway creates an empty mock gateway.
func NewGateway() *Gateway {
	return &Gateway{
		balances:       make(map[string]decimal.Decimal),
		positions:      make(map[string]*core.PositionInfo),
		filters:        make(map[string]*core.InstrumentFilters),
		openOrders:     make(map[string][]*core.OpenOrder),
		klines:         make(map[string][]*core.Candle),
		orderIDCounter: 1000,
		LeverageCalls:  make(map[string]int),
		SubmitErrs:     make(map[core.OrderType]error),
		MethodErrs:     make(map[string]error),
	}
}

func (g *Gateway) GetName() string { return "mock" }

// SetBalance seeds the balance for an asset.
func (g *Gateway) SetBalance(asset string, balance decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[asset] = balance
}

// SetPosition seeds the signed position for a symbol.
func (g *Gateway) SetPosition(symbol string, amount, entryPrice, markPrice decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[symbol] = &core.PositionInfo{
		Symbol:     symbol,
		Amount:     amount,
		EntryPrice: entryPrice,
		MarkPrice:  markPrice,
	}
}

// SetFilters seeds the instrument filters for a symbol.
func (g *Gateway) SetFilters(f *core.InstrumentFilters) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filters[f.Symbol] = f
}

// SetOpenOrders seeds the open order list for a symbol.
func (g *Gateway) SetOpenOrders(symbol string, orders []*core.OpenOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openOrders[symbol] = orders
}

// SetKlines seeds historical candles for a symbol and interval.
func (g *Gateway) SetKlines(symbol, interval string, candles []*core.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.klines[symbol+"/"+interval] = candles
}

// WriteCalls returns the total number of state-changing gateway calls seen.
func (g *Gateway) WriteCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.Submitted) + len(g.Cancelled)
	for _, c := range g.LeverageCalls {
		n += c
	}
	return n
}

// SubmittedOfType returns the recorded intents of one order type.
func (g *Gateway) SubmittedOfType(t core.OrderType) []*core.OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*core.OrderIntent
	for _, o := range g.Submitted {
		if o.Type == t {
			out = append(out, o)
		}
	}
	return out
}

func (g *Gateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["GetBalance"]; err != nil {
		return decimal.Zero, err
	}
	return g.balances[asset], nil
}

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*core.PositionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["GetPosition"]; err != nil {
		return nil, err
	}
	if pos, ok := g.positions[symbol]; ok {
		cp := *pos
		return &cp, nil
	}
	return &core.PositionInfo{Symbol: symbol}, nil
}

func (g *Gateway) GetInstrumentFilters(ctx context.Context, symbol string) (*core.InstrumentFilters, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["GetInstrumentFilters"]; err != nil {
		return nil, err
	}
	if f, ok := g.filters[symbol]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown symbol %s", symbol)
}

func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]*core.OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["GetOpenOrders"]; err != nil {
		return nil, err
	}
	return append([]*core.OpenOrder(nil), g.openOrders[symbol]...), nil
}

func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*core.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["GetKlines"]; err != nil {
		return nil, err
	}
	candles := g.klines[symbol+"/"+interval]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]*core.Candle(nil), candles...), nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, intent *core.OrderIntent) (*core.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.SubmitErrs[intent.Type]; err != nil {
		return nil, err
	}

	g.orderIDCounter++
	cp := *intent
	g.Submitted = append(g.Submitted, &cp)

	switch intent.Type {
	case core.OrderTypeMarket:
		g.fillMarket(intent)
	default:
		// Protective orders rest on the book.
		g.openOrders[intent.Symbol] = append(g.openOrders[intent.Symbol], &core.OpenOrder{
			OrderID: g.orderIDCounter,
			Type:    intent.Type,
		})
	}

	return &core.OrderAck{OrderID: g.orderIDCounter, ClientOrderID: intent.ClientOrderID}, nil
}

// fillMarket applies an instant fill to the tracked position.
func (g *Gateway) fillMarket(intent *core.OrderIntent) {
	pos, ok := g.positions[intent.Symbol]
	if !ok {
		pos = &core.PositionInfo{Symbol: intent.Symbol}
		g.positions[intent.Symbol] = pos
	}

	delta := intent.Quantity
	if intent.Side == core.OrderSideSell {
		delta = delta.Neg()
	}
	if intent.ReduceOnly {
		// Clamp so a reduce-only fill can never flip the position.
		if pos.Amount.Sign() > 0 && delta.Sign() < 0 && delta.Abs().GreaterThan(pos.Amount) {
			delta = pos.Amount.Neg()
		}
		if pos.Amount.Sign() < 0 && delta.Sign() > 0 && delta.GreaterThan(pos.Amount.Abs()) {
			delta = pos.Amount.Abs()
		}
	}
	pos.Amount = pos.Amount.Add(delta)
	if pos.EntryPrice.Sign() <= 0 {
		pos.EntryPrice = pos.MarkPrice
	}
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["CancelOrder"]; err != nil {
		return err
	}
	g.Cancelled = append(g.Cancelled, orderID)
	remaining := g.openOrders[symbol][:0]
	for _, o := range g.openOrders[symbol] {
		if o.OrderID != orderID {
			remaining = append(remaining, o)
		}
	}
	g.openOrders[symbol] = remaining
	return nil
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.MethodErrs["SetLeverage"]; err != nil {
		return err
	}
	g.LeverageCalls[symbol]++
	return nil
}
