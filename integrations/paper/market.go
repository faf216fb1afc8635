package paper

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const secondsPerYear = 31_536_000

// Market simulates a lending market paying a fixed APR on the pooled
// balance. Interest is materialised lazily on every read or write.
type Market struct {
	bank    *Bank
	address common.Address
	asset   common.Address
	aprBps  uint64
	now     func() time.Time

	mu       sync.Mutex
	pooled   *big.Int
	accrued  time.Time
	interest *big.Int
}

// MarketOption customises a Market.
type MarketOption func(*Market)

func WithMarketClock(now func() time.Time) MarketOption {
	return func(m *Market) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMarket registers a market at address for asset paying aprBps.
func NewMarket(bank *Bank, address, asset common.Address, aprBps uint64, opts ...MarketOption) *Market {
	m := &Market{
		bank:     bank,
		address:  address,
		asset:    asset,
		aprBps:   aprBps,
		now:      time.Now,
		pooled:   big.NewInt(0),
		interest: big.NewInt(0),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.accrued = m.now()
	return m
}

// Address is the spender the vault approves before Supply.
func (m *Market) Address() common.Address { return m.address }

// drip compounds simple interest since the last touch into the pool.
func (m *Market) drip() {
	now := m.now()
	elapsed := now.Sub(m.accrued)
	if elapsed <= 0 || m.aprBps == 0 || m.pooled.Sign() == 0 {
		m.accrued = now
		return
	}
	gain := new(big.Int).Mul(m.pooled, new(big.Int).SetUint64(m.aprBps))
	gain.Mul(gain, big.NewInt(int64(elapsed/time.Second)))
	gain.Quo(gain, big.NewInt(10_000*secondsPerYear))
	if gain.Sign() > 0 {
		m.pooled.Add(m.pooled, gain)
		m.interest.Add(m.interest, gain)
		m.bank.Mint(m.address, gain)
	}
	m.accrued = now
}

func (m *Market) checkAsset(asset common.Address) error {
	if asset != m.asset {
		return fmt.Errorf("paper market: unsupported asset %s", asset.Hex())
	}
	return nil
}

// Supply pulls amount from the vault under its allowance.
func (m *Market) Supply(_ context.Context, asset common.Address, amount *big.Int, _ common.Address) error {
	if err := m.checkAsset(asset); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drip()
	if err := m.bank.pull(m.address, amount); err != nil {
		return err
	}
	m.pooled.Add(m.pooled, amount)
	return nil
}

// Withdraw sends up to amount to `to`, capped by the pool.
func (m *Market) Withdraw(_ context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := m.checkAsset(asset); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drip()
	out := new(big.Int).Set(amount)
	if out.Cmp(m.pooled) > 0 {
		out.Set(m.pooled)
	}
	if out.Sign() == 0 {
		return nil, fmt.Errorf("paper market: pool is empty")
	}
	if err := m.bank.send(m.address, to, out); err != nil {
		return nil, err
	}
	m.pooled.Sub(m.pooled, out)
	return out, nil
}

func (m *Market) PooledBalance(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drip()
	return new(big.Int).Set(m.pooled), nil
}

// InterestPaid is the total interest credited so far.
func (m *Market) InterestPaid() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.interest)
}
