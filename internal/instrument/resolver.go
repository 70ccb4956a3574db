// Package instrument resolves and caches per-symbol exchange trading rules.
package instrument

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/alkahfi23/aibottrading/internal/core"
	apperrors "github.com/alkahfi23/aibottrading/pkg/errors"
)

// Resolver fetches InstrumentFilters lazily and caches them for the process
// lifetime. Filters change rarely; Refresh forces a re-fetch when they do.
// Reads are concurrent-safe; cache misses are deduplicated so only one
// writer hits the exchange per symbol.
type Resolver struct {
	gateway core.IGateway
	logger  core.ILogger

	mu    sync.RWMutex
	cache map[string]*core.InstrumentFilters
	group singleflight.Group
}

// NewResolver creates a resolver backed by the given gateway.
func NewResolver(gateway core.IGateway, logger core.ILogger) *Resolver {
	return &Resolver{
		gateway: gateway,
		logger:  logger.WithField("component", "instrument_resolver"),
		cache:   make(map[string]*core.InstrumentFilters),
	}
}

// Resolve returns the filters for symbol, fetching them on first use.
// Failure is ErrMetadataUnavailable: fatal for the cycle, not the process.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (*core.InstrumentFilters, error) {
	r.mu.RLock()
	cached, ok := r.cache[symbol]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(symbol, func() (interface{}, error) {
		return r.fetch(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.InstrumentFilters), nil
}

// Refresh drops the cached entry and re-fetches it.
func (r *Resolver) Refresh(ctx context.Context, symbol string) (*core.InstrumentFilters, error) {
	r.mu.Lock()
	delete(r.cache, symbol)
	r.mu.Unlock()
	return r.Resolve(ctx, symbol)
}

func (r *Resolver) fetch(ctx context.Context, symbol string) (*core.InstrumentFilters, error) {
	filters, err := r.gateway.GetInstrumentFilters(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrMetadataUnavailable, symbol, err)
	}
	if filters.StepSize.Sign() <= 0 || filters.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s returned degenerate filters", apperrors.ErrMetadataUnavailable, symbol)
	}

	r.mu.Lock()
	r.cache[symbol] = filters
	r.mu.Unlock()

	r.logger.Debug("Resolved instrument filters",
		"symbol", symbol,
		"tick_size", filters.TickSize,
		"step_size", filters.StepSize,
		"min_qty", filters.MinQty,
		"min_notional", filters.MinNotional)

	return filters, nil
}
