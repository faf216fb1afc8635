package autorepay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"autorepay/core/events"

	"github.com/ethereum/go-ethereum/common"
)

var errBoom = errors.New("boom")

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func mustInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer %q", s)
	}
	return v
}

func makeAccount(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCustody struct {
	mu          sync.Mutex
	held        *big.Int
	transferIn  error
	transferOut error
	approve     error
	refunds     []*big.Int
	approvals   map[common.Address]*big.Int
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{held: big.NewInt(0), approvals: make(map[common.Address]*big.Int)}
}

func (c *fakeCustody) TransferIn(_ context.Context, _ common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferIn != nil {
		return c.transferIn
	}
	c.held.Add(c.held, amount)
	return nil
}

func (c *fakeCustody) TransferOut(_ context.Context, _ common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferOut != nil {
		return c.transferOut
	}
	c.held.Sub(c.held, amount)
	c.refunds = append(c.refunds, new(big.Int).Set(amount))
	return nil
}

func (c *fakeCustody) Approve(_ context.Context, spender common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approve != nil {
		return c.approve
	}
	c.approvals[spender] = new(big.Int).Set(amount)
	return nil
}

func (c *fakeCustody) Held() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.held)
}

type fakeMarket struct {
	mu         sync.Mutex
	pooled     *big.Int
	supplyErr  error
	withdraw   error
	balanceErr error
	haircut    *big.Int
	withdrawn  []*big.Int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{pooled: big.NewInt(0)}
}

func (m *fakeMarket) Supply(_ context.Context, _ common.Address, amount *big.Int, _ common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.supplyErr != nil {
		return m.supplyErr
	}
	m.pooled.Add(m.pooled, amount)
	return nil
}

func (m *fakeMarket) Withdraw(_ context.Context, _ common.Address, amount *big.Int, _ common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.withdraw != nil {
		return nil, m.withdraw
	}
	m.pooled.Sub(m.pooled, amount)
	out := new(big.Int).Set(amount)
	if m.haircut != nil {
		out.Sub(out, m.haircut)
	}
	m.withdrawn = append(m.withdrawn, out)
	return out, nil
}

func (m *fakeMarket) PooledBalance(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return new(big.Int).Set(m.pooled), nil
}

func (m *fakeMarket) AddYield(amount *big.Int) {
	m.mu.Lock()
	m.pooled.Add(m.pooled, amount)
	m.mu.Unlock()
}

func (m *fakeMarket) Pooled() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.pooled)
}

type fakeSink struct {
	mu       sync.Mutex
	received *big.Int
	err      error
}

func (s *fakeSink) DepositFee(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.received == nil {
		s.received = big.NewInt(0)
	}
	s.received.Add(s.received, amount)
	return nil
}

func (s *fakeSink) Received() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.received)
}

type fakeFeed struct {
	mu    sync.Mutex
	quote Quote
	err   error
}

func staticFeed(price *big.Int, decimals uint8) *fakeFeed {
	return &fakeFeed{quote: Quote{Value: price, Decimals: decimals, Valid: true}}
}

func (f *fakeFeed) LatestPrice(context.Context) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.err
}

func (f *fakeFeed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// failingStore rejects Apply once armed.
type failingStore struct {
	Store
	fail bool
}

func (s *failingStore) Apply(cs *Changeset) error {
	if s.fail {
		return errBoom
	}
	return s.Store.Apply(cs)
}

type harness struct {
	manager  *Manager
	sweeper  *SweepScheduler
	ledger   *Ledger
	store    *failingStore
	custody  *fakeCustody
	market   *fakeMarket
	sink     *fakeSink
	feed     *fakeFeed
	clock    *testClock
	recorder *events.Recorder
	pauses   map[string]bool
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(action string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[action]
}

func newHarness(t *testing.T, feeBps uint32) *harness {
	t.Helper()
	h := &harness{
		store:    &failingStore{Store: NewMemoryStore()},
		custody:  newFakeCustody(),
		market:   newFakeMarket(),
		sink:     &fakeSink{},
		feed:     staticFeed(big.NewInt(2000_00000000), 8),
		clock:    newTestClock(),
		recorder: &events.Recorder{},
		pauses:   map[string]bool{},
	}
	h.ledger = NewLedger(h.store)
	manager, err := NewManager(Config{
		Asset:              makeAccount(0xA0),
		Vault:              makeAccount(0xA1),
		Market:             makeAccount(0xA2),
		FeeSink:            makeAccount(0xA3),
		FeeBps:             feeBps,
		CollateralRatioPct: 150,
		UpdateInterval:     24 * time.Hour,
	}, h.ledger, h.custody, h.market, NewPriceOracle(h.feed),
		WithFeeSink(h.sink),
		WithEmitter(h.recorder),
		WithClock(h.clock.Now),
		WithPauses(stubPauseView{modules: h.pauses}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	h.manager = manager
	h.sweeper = NewSweepScheduler(manager)
	return h
}
