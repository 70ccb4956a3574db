package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alkahfi23/aibottrading/internal/core"
)

// Notifier adapts the alert manager to the engine's notification hook. Quiet
// outcomes (no signal, trend veto, entry skipped) are suppressed so channels
// only see cycles that moved or tried to move money.
type Notifier struct {
	manager *AlertManager
}

func NewNotifier(manager *AlertManager) *Notifier {
	return &Notifier{manager: manager}
}

func (n *Notifier) NotifyCycle(ctx context.Context, report *core.CycleReport) {
	if report == nil || n.quiet(report) {
		return
	}

	level := Info
	title := fmt.Sprintf("%s %s entry placed", report.Symbol, report.Side)
	switch report.Outcome {
	case core.OutcomePartialSuccess:
		level = Warning
		title = fmt.Sprintf("%s %s entry placed, protection incomplete", report.Symbol, report.Side)
	case core.OutcomeAborted:
		level = Error
		title = fmt.Sprintf("%s cycle aborted: %s", report.Symbol, report.Reason)
		if report.Reason == core.ReasonEntryUnknown {
			level = Critical
		}
	}

	fields := map[string]string{
		"cycle_id": report.CycleID,
		"state":    report.StateReached,
	}
	if report.Quantity.Sign() > 0 {
		fields["quantity"] = report.Quantity.String()
		fields["entry"] = report.EntryPrice.String()
		fields["stop_loss"] = report.StopLossPrice.String()
		fields["take_profit"] = report.TakeProfitPrice.String()
	}
	if len(report.MissingLegs) > 0 {
		legs := make([]string, len(report.MissingLegs))
		for i, l := range report.MissingLegs {
			legs[i] = string(l)
		}
		fields["missing_legs"] = strings.Join(legs, ",")
	}

	message := fmt.Sprintf("Cycle finished in %s", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	n.manager.Alert(ctx, title, message, level, fields)
}

// quiet reports whether the cycle did nothing worth alerting on.
func (n *Notifier) quiet(report *core.CycleReport) bool {
	if report.EntrySkipped {
		return true
	}
	switch report.Reason {
	case core.ReasonNoSignal, core.ReasonTrendVeto:
		return true
	}
	return false
}
