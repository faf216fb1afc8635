package autorepay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"autorepay/core/events"
	nativecommon "autorepay/native/common"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "autorepay"

// Config wires the manager to its collaborators and risk parameters.
type Config struct {
	// Asset is the principal asset supplied to the market.
	Asset common.Address
	// Vault is the protocol custody account the market position belongs to.
	Vault common.Address
	// Market is approved as spender before every supply.
	Market common.Address
	// FeeSink is approved as spender before fees are delivered.
	FeeSink            common.Address
	FeeBps             uint32
	CollateralRatioPct uint32
	UpdateInterval     time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithFeeSink sets the destination of skimmed fees. Required when FeeBps > 0.
func WithFeeSink(sink FeeSink) Option {
	return func(m *Manager) { m.sink = sink }
}

func WithEmitter(emitter events.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used for accrual timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithPauses(p nativecommon.PauseView) Option {
	return func(m *Manager) { m.pauses = p }
}

func WithYieldModel(model YieldModel) Option {
	return func(m *Manager) { m.accrual = NewAccrualEngine(model) }
}

// Manager is the entry point for deposits and withdrawals. Each operation
// holds its account's lock and a shared hold on the sweep lock, so sweeps
// never interleave with position updates.
type Manager struct {
	cfg     Config
	ledger  *Ledger
	custody Custody
	market  YieldMarket
	oracle  *PriceOracle
	sink    FeeSink
	skim    *FeeSkim
	policy  CollateralPolicy
	accrual *AccrualEngine
	emitter events.Emitter
	logger  *slog.Logger
	pauses  nativecommon.PauseView
	now     func() time.Time
	tracer  trace.Tracer

	global   sync.RWMutex
	accounts *accountLocks
	feeMu    sync.Mutex
}

// NewManager validates the wiring and returns a ready manager.
func NewManager(cfg Config, ledger *Ledger, custody Custody, market YieldMarket, oracle *PriceOracle, opts ...Option) (*Manager, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger required", ErrNotConfigured)
	}
	if custody == nil {
		return nil, fmt.Errorf("%w: custody required", ErrNotConfigured)
	}
	if market == nil {
		return nil, fmt.Errorf("%w: yield market required", ErrNotConfigured)
	}
	if oracle == nil {
		return nil, fmt.Errorf("%w: price oracle required", ErrNotConfigured)
	}
	if cfg.CollateralRatioPct < 100 {
		return nil, fmt.Errorf("%w: collateral ratio %d%% below 100%%", ErrNotConfigured, cfg.CollateralRatioPct)
	}
	if cfg.UpdateInterval < time.Second {
		return nil, fmt.Errorf("%w: update interval must be at least one second", ErrNotConfigured)
	}
	if cfg.FeeBps >= 10_000 {
		return nil, fmt.Errorf("%w: fee of %d bps", ErrNotConfigured, cfg.FeeBps)
	}
	m := &Manager{
		cfg:      cfg,
		ledger:   ledger,
		custody:  custody,
		market:   market,
		oracle:   oracle,
		policy:   CollateralPolicy{RatioPct: cfg.CollateralRatioPct},
		accrual:  NewAccrualEngine(nil),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
		accounts: newAccountLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.FeeBps > 0 {
		if m.sink == nil {
			return nil, fmt.Errorf("%w: fee sink required when fee is set", ErrNotConfigured)
		}
		m.skim = &FeeSkim{Bps: cfg.FeeBps}
	}
	m.logger = m.logger.With(slog.String("component", "autorepay"))
	return m, nil
}

// DepositResult describes a committed deposit.
type DepositResult struct {
	Fee          *big.Int
	Net          *big.Int
	Collateral   *big.Int
	Debt         *big.Int
	YieldApplied *big.Int
	Price        *big.Int
	Timestamp    uint64
}

// WithdrawResult describes a committed withdrawal.
type WithdrawResult struct {
	Requested    *big.Int
	Received     *big.Int
	Collateral   *big.Int
	YieldApplied *big.Int
	Timestamp    uint64
}

// DepositQuote previews a deposit without moving funds.
type DepositQuote struct {
	Fee        *big.Int
	Net        *big.Int
	Collateral *big.Int
	MaxBorrow  *big.Int
	Price      *big.Int
}

// Snapshot is a consistent-enough read of the whole ledger for reporting.
type Snapshot struct {
	Positions []AccountPosition
	Fees      FeeTotals
	Sweep     SweepState
	TakenAt   uint64
}

func (m *Manager) timestamp() uint64 {
	ts := m.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Deposit credits amount minus the fee skim to account and resets its debt to
// the borrow ceiling. On failure no ledger state changes and any funds already
// moved are returned.
func (m *Manager) Deposit(ctx context.Context, account common.Address, amount *big.Int) (res *DepositResult, err error) {
	ctx, span := m.startSpan(ctx, "autorepay.Deposit", attribute.String("account", account.Hex()))
	defer func() { endSpan(span, err) }()

	res, err = m.deposit(ctx, account, amount)
	if err != nil {
		return nil, err
	}
	if res.Fee.Sign() > 0 {
		if _, ferr := m.FlushFees(ctx); ferr != nil {
			m.logger.Warn("fee delivery deferred",
				slog.String("account", account.Hex()),
				slog.String("fee", res.Fee.String()),
				slog.Any("error", ferr))
		}
	}
	return res, nil
}

func (m *Manager) deposit(ctx context.Context, account common.Address, amount *big.Int) (*DepositResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := nativecommon.Guard(m.pauses, nativecommon.ActionDeposit); err != nil {
		return nil, err
	}
	fee, net, err := m.skim.Split(amount)
	if err != nil {
		return nil, err
	}
	if net.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	m.global.RLock()
	defer m.global.RUnlock()
	release := m.accounts.lock(account)
	defer release()

	price, err := m.oracle.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}

	s := &saga{logger: m.logger}
	if err := m.custody.TransferIn(ctx, account, amount); err != nil {
		return nil, fmt.Errorf("%w: transfer in: %w", ErrExternalMarketFailure, err)
	}
	s.onRollback("refund deposit", func(ctx context.Context) error {
		return m.custody.TransferOut(ctx, account, amount)
	})

	if err := m.custody.Approve(ctx, m.cfg.Market, net); err != nil {
		return nil, s.rollback(ctx, fmt.Errorf("%w: approve market: %w", ErrExternalMarketFailure, err))
	}
	if err := m.market.Supply(ctx, m.cfg.Asset, net, m.cfg.Vault); err != nil {
		return nil, s.rollback(ctx, fmt.Errorf("%w: supply: %w", ErrExternalMarketFailure, err))
	}
	s.onRollback("unwind supply", func(ctx context.Context) error {
		_, err := m.market.Withdraw(ctx, m.cfg.Asset, net, m.cfg.Vault)
		return err
	})

	pooled, err := m.market.PooledBalance(ctx)
	if err != nil {
		return nil, s.rollback(ctx, fmt.Errorf("%w: pooled balance: %w", ErrExternalMarketFailure, err))
	}

	now := m.timestamp()
	tx := m.ledger.Begin()
	if _, err := tx.RegisterIfNew(account); err != nil {
		return nil, s.rollback(ctx, err)
	}
	pos, err := tx.Get(account)
	if err != nil {
		return nil, s.rollback(ctx, err)
	}
	applied, err := m.accrual.Accrue(pos, pooled, price, now)
	if err != nil {
		return nil, s.rollback(ctx, err)
	}
	remaining := new(big.Int).Set(pos.Borrowed)
	if pos.Collateral, err = checkedAdd(pos.Collateral, net); err != nil {
		return nil, s.rollback(ctx, err)
	}
	if pos.Borrowed, err = m.policy.MaxBorrow(pos.Collateral, price); err != nil {
		return nil, s.rollback(ctx, err)
	}
	pos.LastUpdated = maxUint64(pos.LastUpdated, now)
	tx.Put(account, pos)
	if fee.Sign() > 0 {
		tx.AddFees(FeeDelta{Skimmed: fee, Pending: fee})
	}
	if err := tx.Commit(); err != nil {
		return nil, s.rollback(ctx, fmt.Errorf("commit deposit: %w", err))
	}

	if applied.Sign() > 0 {
		m.emitter.Emit(events.YieldApplied{Account: account, Applied: applied, Remaining: remaining, Source: "deposit", Timestamp: now})
	}
	m.emitter.Emit(events.Deposit{
		Account:    account,
		Gross:      amount,
		Fee:        fee,
		Amount:     net,
		Collateral: pos.Collateral,
		Debt:       pos.Borrowed,
		Price:      price,
		Timestamp:  now,
	})
	m.logger.Info("deposit committed",
		slog.String("account", account.Hex()),
		slog.String("net", net.String()),
		slog.String("fee", fee.String()),
		slog.String("debt", pos.Borrowed.String()))

	return &DepositResult{
		Fee:          fee,
		Net:          net,
		Collateral:   pos.Collateral,
		Debt:         pos.Borrowed,
		YieldApplied: applied,
		Price:        price,
		Timestamp:    now,
	}, nil
}

// Withdraw releases amount of collateral to account once its debt is zero.
// The ledger is committed before funds leave the market and restored if the
// market withdrawal fails.
func (m *Manager) Withdraw(ctx context.Context, account common.Address, amount *big.Int) (res *WithdrawResult, err error) {
	ctx, span := m.startSpan(ctx, "autorepay.Withdraw", attribute.String("account", account.Hex()))
	defer func() { endSpan(span, err) }()
	return m.withdraw(ctx, account, amount)
}

func (m *Manager) withdraw(ctx context.Context, account common.Address, amount *big.Int) (*WithdrawResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := nativecommon.Guard(m.pauses, nativecommon.ActionWithdraw); err != nil {
		return nil, err
	}

	m.global.RLock()
	defer m.global.RUnlock()
	release := m.accounts.lock(account)
	defer release()

	price, err := m.oracle.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	pooled, err := m.market.PooledBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: pooled balance: %w", ErrExternalMarketFailure, err)
	}

	now := m.timestamp()
	tx := m.ledger.Begin()
	pos, err := tx.Get(account)
	if err != nil {
		return nil, err
	}
	applied, err := m.accrual.Accrue(pos, pooled, price, now)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(pos.Collateral) > 0 {
		return nil, ErrInsufficientCollateral
	}
	if pos.Collateral, err = checkedSub(pos.Collateral, amount); err != nil {
		return nil, err
	}
	if err := m.policy.AssertWithdrawable(pos); err != nil {
		return nil, err
	}
	tx.Put(account, pos)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit withdraw: %w", err)
	}

	s := &saga{logger: m.logger}
	s.onRollback("restore ledger", func(context.Context) error {
		return m.ledger.Restore(tx.Undo())
	})
	received, err := m.market.Withdraw(ctx, m.cfg.Asset, amount, account)
	if err != nil {
		return nil, s.rollback(ctx, fmt.Errorf("%w: withdraw: %w", ErrExternalMarketFailure, err))
	}
	if received == nil {
		received = new(big.Int).Set(amount)
	}

	if applied.Sign() > 0 {
		m.emitter.Emit(events.YieldApplied{Account: account, Applied: applied, Remaining: pos.Borrowed, Source: "withdraw", Timestamp: now})
	}
	m.emitter.Emit(events.Withdraw{
		Account:    account,
		Requested:  amount,
		Received:   received,
		Collateral: pos.Collateral,
		Timestamp:  now,
	})
	m.logger.Info("withdraw committed",
		slog.String("account", account.Hex()),
		slog.String("requested", amount.String()),
		slog.String("received", received.String()))

	return &WithdrawResult{
		Requested:    new(big.Int).Set(amount),
		Received:     received,
		Collateral:   pos.Collateral,
		YieldApplied: applied,
		Timestamp:    now,
	}, nil
}

// FlushFees delivers every pending fee to the fee sink and returns the amount
// delivered. Pending fees stay recorded when delivery fails.
func (m *Manager) FlushFees(ctx context.Context) (delivered *big.Int, err error) {
	if m.sink == nil {
		return big.NewInt(0), nil
	}
	ctx, span := m.startSpan(ctx, "autorepay.FlushFees")
	defer func() { endSpan(span, err) }()

	m.feeMu.Lock()
	defer m.feeMu.Unlock()

	totals, err := m.ledger.FeeTotals()
	if err != nil {
		return nil, err
	}
	pending := totals.Pending
	if pending.Sign() == 0 {
		return pending, nil
	}
	if err := m.custody.Approve(ctx, m.cfg.FeeSink, pending); err != nil {
		return nil, fmt.Errorf("%w: approve fee sink: %w", ErrExternalMarketFailure, err)
	}
	if err := m.sink.DepositFee(ctx, pending); err != nil {
		return nil, fmt.Errorf("%w: deposit fee: %w", ErrExternalMarketFailure, err)
	}
	tx := m.ledger.Begin()
	tx.AddFees(FeeDelta{Pending: new(big.Int).Neg(pending)})
	if err := tx.Commit(); err != nil {
		// The sink already holds the fee; a stale pending total would deliver it twice.
		m.logger.Error("fee delivered but not recorded", slog.String("amount", pending.String()), slog.Any("error", err))
		return nil, fmt.Errorf("commit fee delivery: %w", err)
	}

	remaining, err := m.ledger.FeeTotals()
	if err != nil {
		return pending, nil
	}
	m.emitter.Emit(events.FeeRouted{Amount: pending, Pending: remaining.Pending, Timestamp: m.timestamp()})
	return pending, nil
}

// Position returns the account's current ledger record without accruing.
func (m *Manager) Position(account common.Address) (*Position, error) {
	return m.ledger.Get(account)
}

// IsRegistered reports whether account has ever deposited.
func (m *Manager) IsRegistered(account common.Address) (bool, error) {
	return m.ledger.IsRegistered(account)
}

// FeeTotals returns the committed fee counters.
func (m *Manager) FeeTotals() (FeeTotals, error) {
	return m.ledger.FeeTotals()
}

// Snapshot reads every registered position and the protocol totals.
func (m *Manager) Snapshot() (*Snapshot, error) {
	positions, err := m.ledger.Positions()
	if err != nil {
		return nil, err
	}
	fees, err := m.ledger.FeeTotals()
	if err != nil {
		return nil, err
	}
	sweep, err := m.ledger.SweepState()
	if err != nil {
		return nil, err
	}
	return &Snapshot{Positions: positions, Fees: fees, Sweep: sweep, TakenAt: m.timestamp()}, nil
}

// PreviewDeposit quotes the fee split and resulting borrow ceiling for a
// deposit of amount by account at the current price.
func (m *Manager) PreviewDeposit(ctx context.Context, account common.Address, amount *big.Int) (*DepositQuote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	fee, net, err := m.skim.Split(amount)
	if err != nil {
		return nil, err
	}
	price, err := m.oracle.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	pos, err := m.ledger.Get(account)
	if err != nil {
		return nil, err
	}
	collateral, err := checkedAdd(pos.Collateral, net)
	if err != nil {
		return nil, err
	}
	ceiling, err := m.policy.MaxBorrow(collateral, price)
	if err != nil {
		return nil, err
	}
	return &DepositQuote{Fee: fee, Net: net, Collateral: collateral, MaxBorrow: ceiling, Price: price}, nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
