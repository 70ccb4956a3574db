package apperrors

import "errors"

// Cycle-level failures. Everything here is fatal for the current evaluation
// cycle only; nothing is process-fatal.
var (
	// ErrMetadataUnavailable means symbol filters could not be resolved.
	ErrMetadataUnavailable = errors.New("instrument metadata unavailable")

	// ErrDegenerateStop means entry and stop coincide, so no safe size exists.
	ErrDegenerateStop = errors.New("degenerate stop distance")

	// ErrTooSmall means the normalized quantity or notional is below the
	// exchange minimums.
	ErrTooSmall = errors.New("order below exchange minimums")

	// ErrGatewayTimeout marks an ambiguous outcome: the call may or may not
	// have reached the exchange. Writes that fail this way are reconciled by
	// the next cycle's position read.
	ErrGatewayTimeout = errors.New("gateway call timed out")

	// ErrGatewayRejected is a confirmed rejection of a single request.
	ErrGatewayRejected = errors.New("gateway rejected request")

	// ErrInvalidInput is a programming error (negative quantity, malformed
	// filter); it should never occur in production.
	ErrInvalidInput = errors.New("invalid input")
)

// Standardized exchange errors surfaced by the gateway adapter.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrOrderNotFound     = errors.New("order not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// IsFatalForCycle reports whether err should abort the evaluation cycle
// before any capital is at risk.
func IsFatalForCycle(err error) bool {
	return errors.Is(err, ErrMetadataUnavailable) ||
		errors.Is(err, ErrDegenerateStop) ||
		errors.Is(err, ErrTooSmall) ||
		errors.Is(err, ErrInvalidInput)
}

// IsAmbiguous reports whether the outcome of a write is unknown.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrGatewayTimeout)
}
