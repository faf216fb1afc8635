package paper

import (
	"context"
	"math/big"
	"sync"
	"time"

	"autorepay/native/autorepay"
)

// StaticFeed serves a settable price. It satisfies autorepay.PriceFeed.
type StaticFeed struct {
	mu       sync.RWMutex
	value    *big.Int
	decimals uint8
	valid    bool
	updated  time.Time
}

func NewStaticFeed(value *big.Int, decimals uint8) *StaticFeed {
	f := &StaticFeed{}
	f.Set(value, decimals)
	return f
}

// Set replaces the price and marks it valid.
func (f *StaticFeed) Set(value *big.Int, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = new(big.Int).Set(value)
	f.decimals = decimals
	f.valid = value.Sign() > 0
	f.updated = time.Now()
}

// Invalidate makes subsequent reads report an invalid quote.
func (f *StaticFeed) Invalidate() {
	f.mu.Lock()
	f.valid = false
	f.mu.Unlock()
}

func (f *StaticFeed) LatestPrice(context.Context) (autorepay.Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return autorepay.Quote{
		Value:     new(big.Int).Set(f.value),
		Decimals:  f.decimals,
		Valid:     f.valid,
		UpdatedAt: f.updated,
	}, nil
}
