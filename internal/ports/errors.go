package ports

import (
	"errors"
	"fmt"
	"strings"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Trade lifecycle errors
	ErrConfigValidation      = errors.New("trade configuration is invalid")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrExecutionFailure      = errors.New("order execution failed")
	ErrSetupFailed           = errors.New("trade setup failed")
	ErrOrchestrationConflict = errors.New("orchestration conflict")
	ErrTradeNotFound         = fmt.Errorf("%w: trade not found", ErrOrchestrationConflict)
	ErrAlreadyRunning        = fmt.Errorf("%w: trade is already running", ErrOrchestrationConflict)
	ErrNotRunning            = fmt.Errorf("%w: trade is not running", ErrOrchestrationConflict)
	ErrTradeActive           = fmt.Errorf("%w: trade is active and cannot be modified", ErrOrchestrationConflict)
	ErrRiskLimitExceeded     = errors.New("risk limit exceeded")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = fmt.Errorf("%w: failed to place order", ErrExecutionFailure)
	ErrOrderCancelFailed    = fmt.Errorf("%w: failed to cancel order", ErrExecutionFailure)

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// ValidationError carries every problem found in a trade configuration.
// It matches ErrConfigValidation under errors.Is.
type ValidationError struct {
	TradeID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return "trade " + e.TradeID + " is invalid: " + strings.Join(e.Problems, "; ")
}

// Is reports ErrConfigValidation as the category of this error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigValidation
}
