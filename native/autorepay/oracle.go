package autorepay

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Quote is a raw price reading from an external feed.
type Quote struct {
	Value     *big.Int
	Decimals  uint8
	Valid     bool
	UpdatedAt time.Time
}

// PriceFeed reads the latest raw quote.
type PriceFeed interface {
	LatestPrice(ctx context.Context) (Quote, error)
}

// PriceFeedFunc adapts a function to PriceFeed.
type PriceFeedFunc func(ctx context.Context) (Quote, error)

func (f PriceFeedFunc) LatestPrice(ctx context.Context) (Quote, error) { return f(ctx) }

// PriceOracle normalises feed quotes to 18-decimal USD per principal unit.
type PriceOracle struct {
	feed   PriceFeed
	maxAge time.Duration
	now    func() time.Time
}

// OracleOption customises a PriceOracle.
type OracleOption func(*PriceOracle)

// WithMaxAge rejects quotes whose UpdatedAt is older than age. Quotes with a
// zero UpdatedAt are not age-checked.
func WithMaxAge(age time.Duration) OracleOption {
	return func(o *PriceOracle) { o.maxAge = age }
}

// WithOracleClock overrides the clock used for staleness checks.
func WithOracleClock(now func() time.Time) OracleOption {
	return func(o *PriceOracle) {
		if now != nil {
			o.now = now
		}
	}
}

func NewPriceOracle(feed PriceFeed, opts ...OracleOption) *PriceOracle {
	o := &PriceOracle{feed: feed, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CurrentPrice returns the latest price scaled to PriceDecimals. There is no
// fallback price: every failure surfaces as ErrOracleUnavailable.
func (o *PriceOracle) CurrentPrice(ctx context.Context) (*big.Int, error) {
	if o == nil || o.feed == nil {
		return nil, fmt.Errorf("%w: no price feed", ErrOracleUnavailable)
	}
	quote, err := o.feed.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	if !quote.Valid || quote.Value == nil || quote.Value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid quote", ErrOracleUnavailable)
	}
	if o.maxAge > 0 && !quote.UpdatedAt.IsZero() {
		if age := o.now().Sub(quote.UpdatedAt); age > o.maxAge {
			return nil, fmt.Errorf("%w: quote is %s old", ErrOracleUnavailable, age.Truncate(time.Second))
		}
	}
	price, err := NormalizePrice(quote.Value, quote.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: quote truncates to zero", ErrOracleUnavailable)
	}
	return price, nil
}

// NormalizePrice rescales value from decimals to PriceDecimals. Feeds with
// more than PriceDecimals decimals are truncated.
func NormalizePrice(value *big.Int, decimals uint8) (*big.Int, error) {
	switch {
	case decimals == PriceDecimals:
		return toBigChecked(value)
	case decimals < PriceDecimals:
		return mulDiv(value, pow10(PriceDecimals-decimals), big.NewInt(1))
	default:
		return mulDiv(value, big.NewInt(1), pow10(decimals-PriceDecimals))
	}
}

func toBigChecked(v *big.Int) (*big.Int, error) {
	word, err := toWord(v)
	if err != nil {
		return nil, err
	}
	return word.ToBig(), nil
}
