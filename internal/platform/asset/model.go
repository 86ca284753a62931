package asset

import (
	"math/big"
	"strings"
	"time"
)

// Class represents the class of a tradeable instrument
type Class string

const (
	ClassEquity    Class = "equity"
	ClassCrypto    Class = "crypto"
	ClassCommodity Class = "commodity"
	ClassBond      Class = "bond"
)

// ParseClass parses a string into a Class
func ParseClass(s string) (Class, error) {
	switch Class(strings.ToLower(s)) {
	case ClassEquity:
		return ClassEquity, nil
	case ClassCrypto:
		return ClassCrypto, nil
	case ClassCommodity:
		return ClassCommodity, nil
	case ClassBond:
		return ClassBond, nil
	default:
		return "", ErrInvalidClass
	}
}

// Valid reports whether the class is one of the known values
func (c Class) Valid() bool {
	switch c {
	case ClassEquity, ClassCrypto, ClassCommodity, ClassBond:
		return true
	}
	return false
}

// Asset represents an instrument in the catalog
type Asset struct {
	ID        int64
	Symbol    string // AAPL, BTC-USD, GC=F
	Name      string // Apple Inc., Bitcoin USD
	Class     Class
	Exchange  string // NASDAQ, CCC (empty when the venue is unknown)
	Currency  string // ISO 4217 quote currency, USD by default
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the asset fields
func (a *Asset) Validate() error {
	if a.Symbol == "" {
		return ErrInvalidSymbol
	}

	if a.Name == "" {
		return ErrInvalidName
	}

	if !a.Class.Valid() {
		return ErrInvalidClass
	}

	return nil
}

// Descriptor carries the fields needed to register an asset in the
// catalog. Symbols are matched case-insensitively per exchange.
type Descriptor struct {
	Symbol   string
	Name     string
	Class    Class
	Exchange string
	Currency string
}

// Validate validates the descriptor fields
func (d *Descriptor) Validate() error {
	if d.Symbol == "" {
		return ErrInvalidSymbol
	}

	if d.Name == "" {
		return ErrInvalidName
	}

	if !d.Class.Valid() {
		return ErrInvalidClass
	}

	return nil
}

// PricePoint represents a single OHLCV record. Only Close is required;
// sources that publish close-only series leave the other fields nil.
// All monetary fields are scaled by 10^8 (e.g., $456.78 → 45678000000).
type PricePoint struct {
	AssetID int64
	Time    time.Time
	Open    *big.Int
	High    *big.Int
	Low     *big.Int
	Close   *big.Int
	Volume  *int64
	Source  string
}

// Validate validates the price point
func (p *PricePoint) Validate() error {
	if p.Time.IsZero() {
		return ErrInvalidTimestamp
	}

	if p.Close == nil {
		return ErrNilPrice
	}

	if p.Close.Sign() <= 0 {
		return ErrNonPositivePrice
	}

	if p.Open != nil && p.High != nil && p.Low != nil {
		if p.Low.Cmp(p.Open) > 0 || p.Open.Cmp(p.High) > 0 {
			return ErrInconsistentRange
		}
		if p.Low.Cmp(p.Close) > 0 || p.Close.Cmp(p.High) > 0 {
			return ErrInconsistentRange
		}
	}

	if p.Volume != nil && *p.Volume < 0 {
		return ErrNegativeVolume
	}

	return nil
}

// TrackedAsset is a row in the tracking registry. Holders counts the
// portfolios currently holding the asset; the refresh set is every
// tracked asset with Holders > 0.
type TrackedAsset struct {
	AssetID        int64
	Symbol         string
	Holders        int
	FirstTrackedAt time.Time
	LastTrackedAt  time.Time
	LastRefreshAt  *time.Time
}

// UpdateRecord is one audit row describing a single refresh attempt
type UpdateRecord struct {
	ID         int64
	AssetID    int64
	Time       time.Time
	Price      *big.Int // nil when the attempt failed
	Success    bool
	ErrMessage *string
	DurationMS int64
}

// UpdateView is an update record joined with catalog identity for the
// read surface
type UpdateView struct {
	UpdateRecord
	Symbol string
	Name   string
}
