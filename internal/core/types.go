package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is a directional exposure. Signals use Long/Short/None; positions use
// Long/Short/Flat.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
	SideFlat  Side = "FLAT"
)

// Opposite returns the opposing trade direction.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// IsDirectional reports whether the side carries exposure.
func (s Side) IsDirectional() bool {
	return s == SideLong || s == SideShort
}

// OrderSide is the exchange-level order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// EntryOrderSide maps a position direction to the order side that opens it.
func EntryOrderSide(s Side) OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitOrderSide maps a position direction to the order side that closes it.
func ExitOrderSide(s Side) OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// OrderType enumerates the order types the engine emits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStop     OrderType = "TRAILING_STOP_MARKET"
)

// IsExitType reports whether t is a protective exit order type.
func (t OrderType) IsExitType() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket, OrderTypeTrailingStop:
		return true
	}
	return false
}

// InstrumentFilters holds the exchange-imposed granularity rules for one
// symbol. Fetched lazily and cached for the process lifetime.
type InstrumentFilters struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// PositionInfo is the raw exchange view of a position: a signed amount plus
// reference prices. Positive amount is long, negative is short.
type PositionInfo struct {
	Symbol     string
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
}

// Position is the interpreted net position for a symbol. Derived fresh from
// the exchange every cycle; never persisted locally.
type Position struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
}

// Signal is the directional decision consumed from the signal source.
type Signal struct {
	Symbol         string
	Side           Side
	Price          decimal.Decimal
	ATR            decimal.Decimal
	TrendConfirmed bool
}

// TradeDecision is the fully derived trade for one evaluation cycle. Created
// once per cycle, consumed and discarded.
type TradeDecision struct {
	Symbol               string
	Side                 Side
	EntryPrice           decimal.Decimal
	StopLossPrice        decimal.Decimal
	TakeProfitPrice      decimal.Decimal
	TrailingCallbackRate decimal.Decimal // zero disables the trailing leg
}

// OrderIntent is one order to be submitted through the gateway. Ephemeral.
type OrderIntent struct {
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Quantity        decimal.Decimal
	StopPrice       decimal.Decimal
	ActivationPrice decimal.Decimal
	CallbackRate    decimal.Decimal
	ReduceOnly      bool
	ClosePosition   bool
	ClientOrderID   string
}

// OrderAck is the gateway acknowledgement of a submitted order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
}

// OpenOrder is the minimal view of an open order needed to find stale exits.
type OpenOrder struct {
	OrderID int64
	Type    OrderType
}

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
	IsClosed  bool
}

// Leg identifies one protective order leg of a completed sequence.
type Leg string

const (
	LegStopLoss   Leg = "SL"
	LegTakeProfit Leg = "TP"
	LegTrailing   Leg = "TRAILING"
)

// Outcome classifies a completed evaluation cycle.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomePartialSuccess Outcome = "PARTIAL_SUCCESS"
	OutcomeAborted        Outcome = "ABORTED"
)

// AbortReason explains why a sequence terminated before DONE.
type AbortReason string

const (
	ReasonNone                AbortReason = ""
	ReasonNoSignal            AbortReason = "NO_SIGNAL"
	ReasonTrendVeto           AbortReason = "TREND_VETO"
	ReasonMetadataUnavailable AbortReason = "METADATA_UNAVAILABLE"
	ReasonPositionUnavailable AbortReason = "POSITION_UNAVAILABLE"
	ReasonBalanceUnavailable  AbortReason = "BALANCE_UNAVAILABLE"
	ReasonDegenerateStop      AbortReason = "DEGENERATE_STOP"
	ReasonTooSmall            AbortReason = "TOO_SMALL"
	ReasonEntryRejected       AbortReason = "ENTRY_REJECTED"
	ReasonEntryUnknown        AbortReason = "ENTRY_UNKNOWN" // timed-out write, reconciled next cycle
	ReasonInvalidInput        AbortReason = "INVALID_INPUT"
)

// CycleReport is the per-cycle summary exposed to the notification
// collaborator and the durable log.
type CycleReport struct {
	CycleID         string
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	Outcome         Outcome
	Reason          AbortReason
	MissingLegs     []Leg
	EntrySkipped    bool // an aligned position already existed
	StateReached    string
	StartedAt       time.Time
	FinishedAt      time.Time
}
