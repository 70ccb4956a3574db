// Package core defines the shared types and interfaces of the trading engine.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IGateway is the exchange transport consumed by the engine. Every call is a
// network round-trip with a bounded timeout owned by the adapter; the engine
// never caches anything the gateway returns except instrument filters.
type IGateway interface {
	GetName() string

	// Reads
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPosition(ctx context.Context, symbol string) (*PositionInfo, error)
	GetInstrumentFilters(ctx context.Context, symbol string) (*InstrumentFilters, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*OpenOrder, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error)

	// Writes
	SubmitOrder(ctx context.Context, intent *OrderIntent) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// ISignalSource produces the directional decision for one symbol. The
// indicator pipeline behind it is replaceable; the engine consumes only the
// Signal contract.
type ISignalSource interface {
	Evaluate(ctx context.Context, symbol string) (*Signal, error)
}

// INotifier receives the per-cycle report for human operators.
type INotifier interface {
	NotifyCycle(ctx context.Context, report *CycleReport)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
