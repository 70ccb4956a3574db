// Package orchestrator drives the evaluation loop across all traded symbols.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/engine"
	"github.com/alkahfi23/aibottrading/pkg/concurrency"
)

// Orchestrator runs one evaluation cycle per symbol per candle. Cycles fan
// out on a worker pool; the sequencer's per-symbol lock makes a poll tick and
// a manual trigger on the same symbol safe.
type Orchestrator struct {
	source    core.ISignalSource
	sequencer *engine.Sequencer
	notifier  core.INotifier
	pool      *concurrency.WorkerPool
	logger    core.ILogger

	symbols  []string
	interval time.Duration
}

// New creates the orchestrator.
func New(
	source core.ISignalSource,
	sequencer *engine.Sequencer,
	notifier core.INotifier,
	pool *concurrency.WorkerPool,
	logger core.ILogger,
	symbols []string,
	interval time.Duration,
) *Orchestrator {
	return &Orchestrator{
		source:    source,
		sequencer: sequencer,
		notifier:  notifier,
		pool:      pool,
		logger:    logger.WithField("component", "orchestrator"),
		symbols:   symbols,
		interval:  interval,
	}
}

// RunCycle evaluates one symbol end to end and returns its report.
func (o *Orchestrator) RunCycle(ctx context.Context, symbol string) *core.CycleReport {
	sig, err := o.source.Evaluate(ctx, symbol)
	if err != nil {
		o.logger.Warn("Signal evaluation failed", "symbol", symbol, "error", err.Error())
		sig = &core.Signal{Symbol: symbol, Side: core.SideNone}
	}

	report := o.sequencer.Run(ctx, sig)
	if o.notifier != nil {
		o.notifier.NotifyCycle(ctx, report)
	}
	return report
}

// TriggerSymbol runs one cycle outside the poll schedule, for the manual
// trigger endpoint. The cycle goes through the same pool as polled ticks so
// manual triggers share the worker cap and panic recovery.
func (o *Orchestrator) TriggerSymbol(ctx context.Context, symbol string) *core.CycleReport {
	o.logger.Info("Manual cycle triggered", "symbol", symbol)
	var report *core.CycleReport
	o.pool.SubmitAndWait(func() {
		report = o.RunCycle(ctx, symbol)
	})
	return report
}

// Run polls until ctx is cancelled. Each tick is aligned to the candle
// boundary so every cycle evaluates a freshly closed bar instead of a
// partial one.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info("Starting poll loop",
		"symbols", o.symbols, "interval", o.interval.String())

	for {
		sleep := untilNextCandle(time.Now(), o.interval)
		select {
		case <-ctx.Done():
			o.logger.Info("Poll loop stopped")
			return
		case <-time.After(sleep):
		}

		o.tick(ctx)
	}
}

// tick fans one cycle per symbol out on the pool and waits for the batch, so
// a slow symbol delays the next tick rather than piling up cycles.
func (o *Orchestrator) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range o.symbols {
		symbol := symbol
		wg.Add(1)
		if err := o.pool.Submit(func() {
			defer wg.Done()
			o.RunCycle(ctx, symbol)
		}); err != nil {
			wg.Done()
			o.logger.Warn("Cycle submission rejected", "symbol", symbol, "error", err.Error())
		}
	}
	wg.Wait()
}

// untilNextCandle returns the wait until just after the next interval
// boundary. The small buffer lets the exchange finalize the closing bar
// before it is fetched.
func untilNextCandle(now time.Time, interval time.Duration) time.Duration {
	const buffer = 2 * time.Second
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now) + buffer
}
