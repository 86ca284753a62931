package pricefeed

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. The backfill engine and the refresh
// loop branch on the kind, never on provider-specific error text.
type Kind int

const (
	// KindThrottled means the provider pushed back (HTTP 429 or
	// equivalent). Retrying is fine after backing off.
	KindThrottled Kind = iota + 1
	// KindTransient covers network failures and 5xx responses.
	KindTransient
	// KindNotFound means the symbol is unknown to the provider.
	// Retrying will not help.
	KindNotFound
	// KindBadData means the response parsed but carried no usable
	// records.
	KindBadData
)

// String returns the kind label used in logs and stored error messages
func (k Kind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindBadData:
		return "bad_data"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a kind
var (
	ErrThrottled = &FetchError{Kind: KindThrottled}
	ErrTransient = &FetchError{Kind: KindTransient}
	ErrNotFound  = &FetchError{Kind: KindNotFound}
	ErrBadData   = &FetchError{Kind: KindBadData}
)

// FetchError is a classified price source failure
type FetchError struct {
	Kind   Kind
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("price fetch %s: %s", e.Symbol, e.Kind)
	}
	return fmt.Sprintf("price fetch %s: %s: %v", e.Symbol, e.Kind, e.Err)
}

// Unwrap returns the underlying cause
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches any *FetchError with the same kind, so
// errors.Is(err, ErrThrottled) works across wrapping
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Kind == e.Kind
}

// Throttled builds a KindThrottled error
func Throttled(symbol string, err error) *FetchError {
	return &FetchError{Kind: KindThrottled, Symbol: symbol, Err: err}
}

// Transient builds a KindTransient error
func Transient(symbol string, err error) *FetchError {
	return &FetchError{Kind: KindTransient, Symbol: symbol, Err: err}
}

// NotFound builds a KindNotFound error
func NotFound(symbol string, err error) *FetchError {
	return &FetchError{Kind: KindNotFound, Symbol: symbol, Err: err}
}

// BadData builds a KindBadData error
func BadData(symbol string, err error) *FetchError {
	return &FetchError{Kind: KindBadData, Symbol: symbol, Err: err}
}

// KindOf extracts the kind from an error chain. ok is false when no
// FetchError is present; callers usually treat those as transient.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
