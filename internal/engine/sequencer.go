// Package engine contains the order execution state machine and its helpers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/instrument"
	"github.com/alkahfi23/aibottrading/internal/position"
	"github.com/alkahfi23/aibottrading/internal/risk"
	apperrors "github.com/alkahfi23/aibottrading/pkg/errors"
	"github.com/alkahfi23/aibottrading/pkg/telemetry"
)

// State is a stage of one trade transition.
type State int

const (
	StateIdle State = iota
	StateSignalValidated
	StatePositionChecked
	StateSized
	StateEntrySubmitted
	StateExitsCancelled
	StateSLPlaced
	StateTPPlaced
	StateTrailingPlaced
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSignalValidated:
		return "SIGNAL_VALIDATED"
	case StatePositionChecked:
		return "POSITION_CHECKED"
	case StateSized:
		return "SIZED"
	case StateEntrySubmitted:
		return "ENTRY_SUBMITTED"
	case StateExitsCancelled:
		return "EXITS_CANCELLED"
	case StateSLPlaced:
		return "SL_PLACED"
	case StateTPPlaced:
		return "TP_PLACED"
	case StateTrailingPlaced:
		return "TRAILING_PLACED"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Sequencer turns a directional signal into a sized, exchange-compliant,
// risk-bounded set of orders and transitions a symbol from one position
// state to another.
//
// Failures before the first order submission abort with no side effects.
// Failures after entry never unwind it: the gateway has no cross-order transaction,
// so once capital is at risk the sequencer prefers installing partial
// protection over retry-looping against a live position.
type Sequencer struct {
	gateway  core.IGateway
	resolver *instrument.Resolver
	tracker  *position.Tracker
	sizer    *risk.Sizer
	logger   core.ILogger

	quoteAsset   string
	refreshExits bool
	trailing     config.TrailingConfig

	// Per-symbol serialization: concurrent runs (poll tick vs. webhook) must
	// never race the same position.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSequencer wires the execution state machine. All collaborators are
// injected; the sequencer owns no global state.
func NewSequencer(
	gateway core.IGateway,
	resolver *instrument.Resolver,
	tracker *position.Tracker,
	sizer *risk.Sizer,
	logger core.ILogger,
	cfg *config.Config,
) *Sequencer {
	return &Sequencer{
		gateway:      gateway,
		resolver:     resolver,
		tracker:      tracker,
		sizer:        sizer,
		logger:       logger.WithField("component", "sequencer"),
		quoteAsset:   cfg.App.QuoteAsset,
		refreshExits: cfg.Risk.RefreshExits,
		trailing:     cfg.Trailing,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (sq *Sequencer) symbolLock(symbol string) *sync.Mutex {
	sq.locksMu.Lock()
	defer sq.locksMu.Unlock()
	mu, ok := sq.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		sq.locks[symbol] = mu
	}
	return mu
}

func newClientOrderID(kind string) string {
	// Binance caps client order IDs at 36 chars.
	return fmt.Sprintf("abt-%s-%s", strings.ToLower(kind), uuid.NewString()[:18])
}

// Run executes one evaluation cycle for the signal's symbol. It always
// returns a report; errors are folded into the report's outcome so one
// symbol's failure never halts the others.
func (sq *Sequencer) Run(ctx context.Context, sig *core.Signal) *core.CycleReport {
	report := &core.CycleReport{
		CycleID:   uuid.NewString(),
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Outcome:   core.OutcomeAborted,
		StartedAt: time.Now(),
	}
	logger := sq.logger.WithField("symbol", sig.Symbol).WithField("cycle_id", report.CycleID)
	metrics := telemetry.GetGlobalMetrics()

	mu := sq.symbolLock(sig.Symbol)
	mu.Lock()
	defer mu.Unlock()

	state := StateIdle
	abort := func(reason core.AbortReason, err error) *core.CycleReport {
		report.Outcome = core.OutcomeAborted
		report.Reason = reason
		report.StateReached = state.String()
		report.FinishedAt = time.Now()
		fields := []interface{}{"state", state.String(), "reason", string(reason)}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		logger.Warn("Sequence aborted", fields...)
		metrics.RecordAbort(ctx, sig.Symbol, string(reason))
		metrics.RecordCycle(ctx, sig.Symbol, string(core.OutcomeAborted))
		return report
	}

	// IDLE -> SIGNAL_VALIDATED. The cross-timeframe veto rejects a fast
	// timeframe signal that disagrees with the higher timeframe trend; no
	// gateway call has happened yet, so an abort here is free.
	if !sig.Side.IsDirectional() {
		return abort(core.ReasonNoSignal, nil)
	}
	if !sig.TrendConfirmed {
		return abort(core.ReasonTrendVeto, nil)
	}
	if sig.Price.Sign() <= 0 {
		return abort(core.ReasonInvalidInput, fmt.Errorf("%w: signal price %s", apperrors.ErrInvalidInput, sig.Price))
	}
	state = StateSignalValidated

	filters, err := sq.resolver.Resolve(ctx, sig.Symbol)
	if err != nil {
		return abort(core.ReasonMetadataUnavailable, err)
	}

	// -> POSITION_CHECKED. Read fresh immediately before sizing: fills and
	// manual intervention can change the position between cycles.
	pos, err := sq.tracker.Current(ctx, sig.Symbol)
	if err != nil {
		return abort(core.ReasonPositionUnavailable, err)
	}
	state = StatePositionChecked

	if pos.Side == sig.Side {
		// Idempotence: a repeated signal on an already-open position must
		// not duplicate exposure. Optionally refresh the protective set.
		logger.Info("Position already open on signal side, skipping entry",
			"quantity", pos.Quantity, "entry_price", pos.EntryPrice)
		report.EntrySkipped = true
		if sq.refreshExits {
			return sq.refreshProtection(ctx, sig, pos, filters, report, logger)
		}
		report.Outcome = core.OutcomeSuccess
		report.StateReached = state.String()
		report.FinishedAt = time.Now()
		metrics.RecordCycle(ctx, sig.Symbol, string(core.OutcomeSuccess))
		return report
	}

	// An opposing position is flattened with a reduce-only market order
	// before anything is sized: its held margin and unrealized PnL distort
	// the free balance the new entry must be sized from.
	if pos.Side.IsDirectional() && pos.Side != sig.Side {
		closeIntent := &core.OrderIntent{
			Symbol:        sig.Symbol,
			Side:          core.EntryOrderSide(sig.Side),
			Type:          core.OrderTypeMarket,
			Quantity:      pos.Quantity,
			ReduceOnly:    true,
			ClientOrderID: newClientOrderID("close"),
		}
		if _, err := sq.gateway.SubmitOrder(ctx, closeIntent); err != nil {
			if apperrors.IsAmbiguous(err) {
				return abort(core.ReasonEntryUnknown, err)
			}
			return abort(core.ReasonEntryRejected, fmt.Errorf("closing opposing position: %w", err))
		}
		logger.Info("Closed opposing position", "closed_qty", pos.Quantity, "was_side", pos.Side)
	}

	// The balance is read after the flatten so the freed margin counts.
	balance, err := sq.gateway.GetBalance(ctx, sq.quoteAsset)
	if err != nil {
		return abort(core.ReasonBalanceUnavailable, err)
	}

	leverage := sq.sizer.DynamicLeverage(balance)
	riskPct := sq.sizer.DynamicRiskPct(balance)
	entry := sig.Price

	stop := sq.sizer.DeriveStop(sig.Side, entry, sig.ATR)
	target := sq.sizer.DeriveTarget(sig.Side, entry, sig.ATR)
	if !risk.ValidStop(sig.Side, entry, stop) {
		return abort(core.ReasonDegenerateStop,
			fmt.Errorf("%w: derived stop %s not on losing side of %s", apperrors.ErrDegenerateStop, stop, entry))
	}

	// -> SIZED
	rawQty, err := sq.sizer.PositionSize(balance, riskPct, entry, stop, leverage)
	if err != nil {
		if errors.Is(err, apperrors.ErrDegenerateStop) {
			return abort(core.ReasonDegenerateStop, err)
		}
		return abort(core.ReasonInvalidInput, err)
	}
	qty, err := NormalizeQuantity(filters, rawQty)
	if err != nil {
		return abort(core.ReasonInvalidInput, err)
	}
	if qty.IsZero() || !ValidateNotional(filters, qty, entry) {
		return abort(core.ReasonTooSmall,
			fmt.Errorf("%w: qty=%s notional=%s", apperrors.ErrTooSmall, qty, qty.Mul(entry)))
	}
	state = StateSized

	decision := &core.TradeDecision{
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		EntryPrice:      entry,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
	}
	if sq.trailing.Enabled {
		decision.TrailingCallbackRate = decimal.NewFromFloat(sq.trailing.CallbackRate)
	}
	report.Quantity = qty
	report.EntryPrice = entry

	if err := sq.gateway.SetLeverage(ctx, sig.Symbol, leverage); err != nil {
		// The previous leverage setting stays in effect; sizing already
		// bounded margin usage, so continue.
		logger.Warn("Failed to set leverage", "leverage", leverage, "error", err.Error())
	}

	// -> ENTRY_SUBMITTED. A gateway error here aborts the whole sequence:
	// nothing was opened, nothing to unwind. A timeout is different - the
	// outcome is unknown and the next cycle's position read reconciles it.
	entryIntent := &core.OrderIntent{
		Symbol:        sig.Symbol,
		Side:          core.EntryOrderSide(sig.Side),
		Type:          core.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: newClientOrderID("entry"),
	}
	if _, err := sq.gateway.SubmitOrder(ctx, entryIntent); err != nil {
		if apperrors.IsAmbiguous(err) {
			logger.Error("Entry order outcome unknown after timeout, will reconcile next cycle",
				"quantity", qty)
			return abort(core.ReasonEntryUnknown, err)
		}
		return abort(core.ReasonEntryRejected, err)
	}
	state = StateEntrySubmitted
	if metrics.EntriesSubmitted != nil {
		metrics.EntriesSubmitted.Add(ctx, 1)
	}
	logger.Info("Entry submitted",
		"side", sig.Side, "quantity", qty, "entry_price", entry, "leverage", leverage, "risk_pct", riskPct)

	// Re-read the position so exit validation uses the live mark price and
	// the actual fill price rather than the possibly stale signal close.
	markPrice := entry
	if filled, err := sq.tracker.Current(ctx, sig.Symbol); err == nil && filled.Side == sig.Side {
		if filled.EntryPrice.Sign() > 0 {
			decision.EntryPrice = filled.EntryPrice
			report.EntryPrice = filled.EntryPrice
		}
		if filled.MarkPrice.Sign() > 0 {
			markPrice = filled.MarkPrice
		}
	} else if err != nil {
		logger.Warn("Could not re-read position after entry", "error", err.Error())
	}

	sq.placeProtection(ctx, decision, markPrice, filters, report, logger, &state)

	report.StateReached = state.String()
	report.FinishedAt = time.Now()
	if len(report.MissingLegs) == 0 {
		report.Outcome = core.OutcomeSuccess
	} else {
		report.Outcome = core.OutcomePartialSuccess
	}
	metrics.RecordCycle(ctx, sig.Symbol, string(report.Outcome))
	logger.Info("Sequence complete",
		"outcome", string(report.Outcome), "missing_legs", report.MissingLegs)
	return report
}

// placeProtection cancels stale exits and installs the new protective set.
// Each leg failure is logged and skipped; the sequence still completes. An
// entry with a TP but no SL beats retry-looping against a live position.
func (sq *Sequencer) placeProtection(
	ctx context.Context,
	decision *core.TradeDecision,
	markPrice decimal.Decimal,
	filters *core.InstrumentFilters,
	report *core.CycleReport,
	logger core.ILogger,
	state *State,
) {
	metrics := telemetry.GetGlobalMetrics()

	// -> EXITS_CANCELLED. Failure is non-fatal: placing fresh exits on top
	// of a stale one is a smaller hazard than leaving the position naked.
	cancelled, err := CancelStaleExits(ctx, sq.gateway, decision.Symbol, logger)
	if err != nil {
		logger.Warn("Could not list open orders for stale-exit cleanup, proceeding", "error", err.Error())
	} else if cancelled > 0 {
		logger.Info("Cancelled stale exit orders", "count", cancelled)
		if metrics.StaleExitsCancelled != nil {
			metrics.StaleExitsCancelled.Add(ctx, int64(cancelled))
		}
	}
	*state = StateExitsCancelled

	plan, err := PlanExits(decision, markPrice, filters, decimal.NewFromFloat(sq.trailing.ActivationOffset))
	if err != nil {
		logger.Error("Exit planning failed, position is unprotected", "error", err.Error())
		report.MissingLegs = append(report.MissingLegs, core.LegStopLoss, core.LegTakeProfit)
		for _, leg := range report.MissingLegs {
			metrics.RecordMissingLeg(ctx, decision.Symbol, string(leg))
		}
		return
	}
	for _, leg := range plan.Skipped {
		logger.Warn("Exit leg failed side validation against mark price, skipped",
			"leg", string(leg), "mark_price", markPrice)
		report.MissingLegs = append(report.MissingLegs, leg)
		metrics.RecordMissingLeg(ctx, decision.Symbol, string(leg))
	}

	place := func(intent *core.OrderIntent, leg core.Leg, next State) {
		if intent == nil {
			return
		}
		intent.ClientOrderID = newClientOrderID(string(leg))
		if _, err := sq.gateway.SubmitOrder(ctx, intent); err != nil {
			logger.Warn("Protective leg rejected, continuing without it",
				"leg", string(leg), "trigger", intent.StopPrice, "error", err.Error())
			report.MissingLegs = append(report.MissingLegs, leg)
			metrics.RecordMissingLeg(ctx, decision.Symbol, string(leg))
			return
		}
		*state = next
		switch leg {
		case core.LegStopLoss:
			report.StopLossPrice = intent.StopPrice
		case core.LegTakeProfit:
			report.TakeProfitPrice = intent.StopPrice
		}
	}

	place(plan.StopLoss, core.LegStopLoss, StateSLPlaced)
	place(plan.TakeProfit, core.LegTakeProfit, StateTPPlaced)
	place(plan.Trailing, core.LegTrailing, StateTrailingPlaced)
	*state = StateDone
}

// refreshProtection re-plans exits for an already-open aligned position
// without touching the entry.
func (sq *Sequencer) refreshProtection(
	ctx context.Context,
	sig *core.Signal,
	pos *core.Position,
	filters *core.InstrumentFilters,
	report *core.CycleReport,
	logger core.ILogger,
) *core.CycleReport {
	metrics := telemetry.GetGlobalMetrics()

	entry := pos.EntryPrice
	if entry.Sign() <= 0 {
		entry = sig.Price
	}
	decision := &core.TradeDecision{
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		EntryPrice:      entry,
		StopLossPrice:   sq.sizer.DeriveStop(sig.Side, entry, sig.ATR),
		TakeProfitPrice: sq.sizer.DeriveTarget(sig.Side, entry, sig.ATR),
	}
	if sq.trailing.Enabled {
		decision.TrailingCallbackRate = decimal.NewFromFloat(sq.trailing.CallbackRate)
	}
	report.Quantity = pos.Quantity
	report.EntryPrice = entry

	markPrice := pos.MarkPrice
	if markPrice.Sign() <= 0 {
		markPrice = sig.Price
	}

	state := StatePositionChecked
	sq.placeProtection(ctx, decision, markPrice, filters, report, logger, &state)

	report.StateReached = state.String()
	report.FinishedAt = time.Now()
	if len(report.MissingLegs) == 0 {
		report.Outcome = core.OutcomeSuccess
	} else {
		report.Outcome = core.OutcomePartialSuccess
	}
	metrics.RecordCycle(ctx, sig.Symbol, string(report.Outcome))
	return report
}
