package asset

import "errors"

// Catalog errors
var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidClass  = errors.New("invalid asset class")
)

// Price errors
var (
	ErrNilPrice          = errors.New("price cannot be nil")
	ErrNonPositivePrice  = errors.New("price must be positive")
	ErrInconsistentRange = errors.New("ohlc range is inconsistent")
	ErrNegativeVolume    = errors.New("volume cannot be negative")
	ErrInvalidTimestamp  = errors.New("timestamp is required")
	ErrNoPriceData       = errors.New("no price data available")
)

// Tracking errors
var (
	ErrNotTracked = errors.New("asset is not tracked")
)
