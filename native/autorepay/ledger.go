package autorepay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists ledger state. Apply must be atomic: either every part of the
// changeset becomes visible or none does.
type Store interface {
	// Position returns the stored record, or ok=false when none exists.
	Position(account common.Address) (*Position, bool, error)
	// Slot returns the registry slot of account.
	Slot(account common.Address) (Slot, bool, error)
	// Accounts lists registered accounts in slot order.
	Accounts() ([]common.Address, error)
	FeeTotals() (FeeTotals, error)
	SweepState() (SweepState, error)
	Apply(cs *Changeset) error
}

// Changeset is one atomic ledger update. Register appends new accounts to the
// registry in order; Fees is a signed delta.
type Changeset struct {
	Positions map[common.Address]*Position
	Register  []common.Address
	Fees      *FeeDelta
	Sweep     *SweepState
}

func (cs *Changeset) empty() bool {
	return cs == nil || (len(cs.Positions) == 0 && len(cs.Register) == 0 && cs.Fees == nil && cs.Sweep == nil)
}

// Ledger is the account ledger over a Store. Callers serialise mutations per
// account; the Store serialises Apply.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Get returns a copy of the account's position, zeroed for unknown accounts.
func (l *Ledger) Get(account common.Address) (*Position, error) {
	pos, ok, err := l.store.Position(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return ZeroPosition(), nil
	}
	return pos.Clone(), nil
}

// Put writes a single position.
func (l *Ledger) Put(account common.Address, pos *Position) error {
	tx := l.Begin()
	tx.Put(account, pos)
	return tx.Commit()
}

func (l *Ledger) IsRegistered(account common.Address) (bool, error) {
	_, ok, err := l.store.Slot(account)
	return ok, err
}

// RegisterIfNew adds account to the registry. Repeated calls are no-ops.
func (l *Ledger) RegisterIfNew(account common.Address) (bool, error) {
	tx := l.Begin()
	added, err := tx.RegisterIfNew(account)
	if err != nil || !added {
		return added, err
	}
	return true, tx.Commit()
}

func (l *Ledger) Slot(account common.Address) (Slot, bool, error) {
	return l.store.Slot(account)
}

func (l *Ledger) Accounts() ([]common.Address, error) { return l.store.Accounts() }

func (l *Ledger) FeeTotals() (FeeTotals, error) { return l.store.FeeTotals() }

func (l *Ledger) SweepState() (SweepState, error) { return l.store.SweepState() }

// Positions returns every registered account with its position.
func (l *Ledger) Positions() ([]AccountPosition, error) {
	accounts, err := l.store.Accounts()
	if err != nil {
		return nil, err
	}
	out := make([]AccountPosition, 0, len(accounts))
	for i, account := range accounts {
		pos, err := l.Get(account)
		if err != nil {
			return nil, err
		}
		out = append(out, AccountPosition{Account: account, Slot: Slot(i), Position: pos})
	}
	return out, nil
}

// Restore applies an undo changeset produced by Tx.Undo.
func (l *Ledger) Restore(undo *Changeset) error {
	if undo.empty() {
		return nil
	}
	return l.store.Apply(undo)
}

// Begin opens a buffered transaction. Nothing is visible until Commit.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		ledger:        l,
		positions:     make(map[common.Address]*Position),
		registeredSet: make(map[common.Address]struct{}),
	}
}

// Tx buffers ledger writes for one atomic commit.
type Tx struct {
	ledger        *Ledger
	positions     map[common.Address]*Position
	touched       []common.Address
	registered    []common.Address
	registeredSet map[common.Address]struct{}
	fees          *FeeDelta
	sweep         *SweepState
	undo          *Changeset
	closed        bool
}

// Get reads through the write buffer.
func (t *Tx) Get(account common.Address) (*Position, error) {
	if pos, ok := t.positions[account]; ok {
		return pos.Clone(), nil
	}
	return t.ledger.Get(account)
}

func (t *Tx) Put(account common.Address, pos *Position) {
	if _, ok := t.positions[account]; !ok {
		t.touched = append(t.touched, account)
	}
	t.positions[account] = pos.Clone()
}

func (t *Tx) IsRegistered(account common.Address) (bool, error) {
	if _, ok := t.registeredSet[account]; ok {
		return true, nil
	}
	return t.ledger.IsRegistered(account)
}

// RegisterIfNew reports whether the account was newly queued for registration.
func (t *Tx) RegisterIfNew(account common.Address) (bool, error) {
	ok, err := t.IsRegistered(account)
	if err != nil || ok {
		return false, err
	}
	t.registered = append(t.registered, account)
	t.registeredSet[account] = struct{}{}
	return true, nil
}

// AddFees accumulates a fee delta.
func (t *Tx) AddFees(delta FeeDelta) {
	if t.fees == nil {
		t.fees = &FeeDelta{Skimmed: copyOrZero(nil), Pending: copyOrZero(nil)}
	}
	if delta.Skimmed != nil {
		t.fees.Skimmed.Add(t.fees.Skimmed, delta.Skimmed)
	}
	if delta.Pending != nil {
		t.fees.Pending.Add(t.fees.Pending, delta.Pending)
	}
}

func (t *Tx) SetSweepState(state SweepState) {
	s := state
	t.sweep = &s
}

// Commit applies the buffered writes atomically and records their pre-image
// for Undo. Registrations are never undone.
func (t *Tx) Commit() error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true

	cs := &Changeset{
		Positions: make(map[common.Address]*Position, len(t.positions)),
		Register:  append([]common.Address(nil), t.registered...),
		Fees:      t.fees,
		Sweep:     t.sweep,
	}
	undo := &Changeset{Positions: make(map[common.Address]*Position, len(t.positions))}
	for _, account := range t.touched {
		cs.Positions[account] = t.positions[account].Clone()
		prior, err := t.ledger.Get(account)
		if err != nil {
			return fmt.Errorf("read pre-image: %w", err)
		}
		undo.Positions[account] = prior
	}
	if t.fees != nil {
		undo.Fees = t.fees.negate()
	}
	if t.sweep != nil {
		prior, err := t.ledger.SweepState()
		if err != nil {
			return fmt.Errorf("read pre-image: %w", err)
		}
		undo.Sweep = &prior
	}
	if cs.empty() {
		t.undo = undo
		return nil
	}
	if err := t.ledger.store.Apply(cs); err != nil {
		return err
	}
	t.undo = undo
	return nil
}

// Undo returns the changeset that reverts a committed transaction, or nil
// before a successful Commit.
func (t *Tx) Undo() *Changeset { return t.undo }
