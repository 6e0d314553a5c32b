package apperrors

import "errors"

// Standardized trading platform errors. Callers wrap these with %w and
// classify with errors.Is.
var (
	// Validation
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrInvalidOrder  = errors.New("invalid order parameter")

	// Pre-trade risk
	ErrRiskRejected         = errors.New("risk check rejected")
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientPosition = errors.New("insufficient available position")

	// Broker
	ErrBrokerConnection = errors.New("broker connection error")
	ErrOrderRejected    = errors.New("order rejected")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNotCancelable    = errors.New("order not cancelable")

	// Order lifecycle
	ErrInvalidTransition = errors.New("illegal order state transition")

	// Market access
	ErrMarketClosed      = errors.New("market closed")
	ErrPriceLimit        = errors.New("price limit reached")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Data
	ErrDataSource  = errors.New("data source failure")
	ErrNoData      = errors.New("no data available")
	ErrCacheClosed = errors.New("cache closed")
)
