package keeper

import (
	"context"
	"errors"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"autorepay/integrations/paper"
	"autorepay/native/autorepay"
	"autorepay/observability"

	"github.com/ethereum/go-ethereum/common"
)

var (
	asset  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	vault  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	pool   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	sink   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	oneETH = big.NewInt(1_000_000_000_000_000_000)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

// flakySink fails deliveries while down is set.
type flakySink struct {
	mu       sync.Mutex
	down     bool
	received *big.Int
}

func (s *flakySink) DepositFee(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("sink offline")
	}
	if s.received == nil {
		s.received = new(big.Int)
	}
	s.received.Add(s.received, amount)
	return nil
}

func (s *flakySink) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func newEngine(t *testing.T, clock *testClock, feeSink autorepay.FeeSink) (*autorepay.Manager, *autorepay.SweepScheduler) {
	t.Helper()
	bank := paper.NewBank(vault)
	bank.Mint(alice, new(big.Int).Mul(big.NewInt(10), oneETH))
	market := paper.NewMarket(bank, pool, asset, 0, paper.WithMarketClock(clock.Now))
	manager, err := autorepay.NewManager(autorepay.Config{
		Asset:              asset,
		Vault:              vault,
		Market:             pool,
		FeeSink:            sink,
		FeeBps:             3,
		CollateralRatioPct: 150,
		UpdateInterval:     time.Hour,
	}, autorepay.NewLedger(autorepay.NewMemoryStore()), bank, market,
		autorepay.NewPriceOracle(paper.NewStaticFeed(big.NewInt(2000_00000000), 8)),
		autorepay.WithFeeSink(feeSink), autorepay.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, autorepay.NewSweepScheduler(manager)
}

func TestTickSweepsAndExports(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	manager, sweeper := newEngine(t, clock, &flakySink{})
	if _, err := manager.Deposit(context.Background(), alice, oneETH); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	dir := t.TempDir()
	k, err := New(Config{
		Manager:   manager,
		Sweeper:   sweeper,
		ExportDir: dir,
		Metrics:   observability.Engine(),
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}

	report := k.Tick(context.Background())
	if report.Err != nil {
		t.Fatalf("tick: %v", report.Err)
	}
	if report.Sweep == nil || !report.Sweep.Ran || report.Sweep.Accounts != 1 {
		t.Fatalf("expected committed sweep, got %+v", report.Sweep)
	}
	if report.Export == nil || report.Export.Positions != 1 {
		t.Fatalf("expected export, got %+v", report.Export)
	}
	if _, err := os.Stat(report.Export.ParquetPath); err != nil {
		t.Fatalf("parquet missing: %v", err)
	}

	clock.Advance(time.Minute)
	report = k.Tick(context.Background())
	if report.Sweep != nil {
		t.Fatalf("sweep should not be due, got %+v", report.Sweep)
	}
	if report.Export != nil {
		t.Fatalf("export should wait for its interval")
	}

	clock.Advance(time.Hour)
	report = k.Tick(context.Background())
	if report.Sweep == nil || !report.Sweep.Ran {
		t.Fatalf("expected second sweep after interval")
	}
}

func TestTickRetriesPendingFees(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	feeSink := &flakySink{down: true}
	manager, sweeper := newEngine(t, clock, feeSink)
	res, err := manager.Deposit(context.Background(), alice, oneETH)
	if err != nil {
		t.Fatalf("deposit must succeed while the sink is down: %v", err)
	}
	fees, _ := manager.FeeTotals()
	if fees.Pending.Cmp(res.Fee) != 0 {
		t.Fatalf("expected %s pending, got %s", res.Fee, fees.Pending)
	}

	k, err := New(Config{Manager: manager, Sweeper: sweeper, Now: clock.Now})
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}
	if report := k.Tick(context.Background()); report.Err == nil {
		t.Fatalf("expected delivery error while sink is down")
	}

	feeSink.setDown(false)
	report := k.Tick(context.Background())
	if report.Err != nil {
		t.Fatalf("tick: %v", report.Err)
	}
	if report.Delivered.Cmp(res.Fee) != 0 {
		t.Fatalf("delivered %s, want %s", report.Delivered, res.Fee)
	}
	fees, _ = manager.FeeTotals()
	if fees.Pending.Sign() != 0 || fees.Skimmed.Cmp(res.Fee) != 0 {
		t.Fatalf("unexpected fee totals %+v", fees)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	manager, sweeper := newEngine(t, clock, &flakySink{})
	k, err := New(Config{Manager: manager, Sweeper: sweeper, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("keeper did not stop")
	}
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without manager")
	}
}
