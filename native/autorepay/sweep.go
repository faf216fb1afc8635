package autorepay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"autorepay/core/events"
	nativecommon "autorepay/native/common"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// SweepScheduler runs the periodic batch accrual over every registered
// account. An external keeper polls IsDue and calls RunSweep.
type SweepScheduler struct {
	m        *Manager
	interval uint64
}

func NewSweepScheduler(m *Manager) *SweepScheduler {
	return &SweepScheduler{m: m, interval: uint64(m.cfg.UpdateInterval / time.Second)}
}

// SweepStatus reports the schedule as of At.
type SweepStatus struct {
	LastUpdate uint64
	Interval   uint64
	NextDue    uint64
	Due        bool
	At         uint64
}

// SweepResult describes one RunSweep call. Ran is false when the sweep was
// not due and nothing changed.
type SweepResult struct {
	RunID         string
	Ran           bool
	Accounts      int
	Repaid        int
	TotalApplied  *big.Int
	PooledBalance *big.Int
	Price         *big.Int
	Timestamp     uint64
}

func (s *SweepScheduler) due(state SweepState, now uint64) bool {
	if now < state.LastUpdate {
		return false
	}
	return now-state.LastUpdate >= s.interval
}

// IsDue reports whether the update interval has elapsed since the last sweep.
func (s *SweepScheduler) IsDue() (bool, error) {
	state, err := s.m.ledger.SweepState()
	if err != nil {
		return false, err
	}
	return s.due(state, s.m.timestamp()), nil
}

func (s *SweepScheduler) Status() (SweepStatus, error) {
	state, err := s.m.ledger.SweepState()
	if err != nil {
		return SweepStatus{}, err
	}
	now := s.m.timestamp()
	return SweepStatus{
		LastUpdate: state.LastUpdate,
		Interval:   s.interval,
		NextDue:    state.LastUpdate + s.interval,
		Due:        s.due(state, now),
		At:         now,
	}, nil
}

type sweepApplied struct {
	account   common.Address
	applied   *big.Int
	remaining *big.Int
}

// RunSweep accrues yield for every registered account in registry order and
// commits the result with the new sweep timestamp as one changeset. It is a
// no-op when not due. Any failure leaves the ledger untouched.
func (s *SweepScheduler) RunSweep(ctx context.Context) (res *SweepResult, err error) {
	m := s.m
	ctx, span := m.startSpan(ctx, "autorepay.RunSweep")
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.Bool("ran", res.Ran), attribute.Int("accounts", res.Accounts))
		}
		endSpan(span, err)
	}()

	if err := nativecommon.Guard(m.pauses, nativecommon.ActionSweep); err != nil {
		return nil, err
	}

	m.global.Lock()
	defer m.global.Unlock()

	state, err := m.ledger.SweepState()
	if err != nil {
		return nil, err
	}
	now := m.timestamp()
	if !s.due(state, now) {
		return &SweepResult{Ran: false, TotalApplied: big.NewInt(0), Timestamp: now}, nil
	}

	price, err := m.oracle.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	pooled, err := m.market.PooledBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: pooled balance: %w", ErrExternalMarketFailure, err)
	}
	accounts, err := m.ledger.Accounts()
	if err != nil {
		return nil, err
	}

	tx := m.ledger.Begin()
	total := big.NewInt(0)
	var repaid []sweepApplied
	for _, account := range accounts {
		pos, err := tx.Get(account)
		if err != nil {
			return nil, err
		}
		applied, err := m.accrual.Accrue(pos, pooled, price, now)
		if err != nil {
			return nil, fmt.Errorf("accrue %s: %w", account.Hex(), err)
		}
		tx.Put(account, pos)
		if applied.Sign() > 0 {
			total.Add(total, applied)
			repaid = append(repaid, sweepApplied{account: account, applied: applied, remaining: pos.Borrowed})
		}
	}
	tx.SetSweepState(SweepState{LastUpdate: now})
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}

	res = &SweepResult{
		RunID:         uuid.NewString(),
		Ran:           true,
		Accounts:      len(accounts),
		Repaid:        len(repaid),
		TotalApplied:  total,
		PooledBalance: pooled,
		Price:         price,
		Timestamp:     now,
	}
	for _, r := range repaid {
		m.emitter.Emit(events.YieldApplied{Account: r.account, Applied: r.applied, Remaining: r.remaining, Source: "sweep", Timestamp: now})
	}
	m.emitter.Emit(events.Sweep{
		RunID:         res.RunID,
		Accounts:      res.Accounts,
		TotalApplied:  total,
		PooledBalance: pooled,
		Price:         price,
		Timestamp:     now,
	})
	m.logger.Info("sweep committed",
		slog.String("runId", res.RunID),
		slog.Int("accounts", res.Accounts),
		slog.Int("repaid", res.Repaid),
		slog.String("totalApplied", total.String()))
	return res, nil
}
