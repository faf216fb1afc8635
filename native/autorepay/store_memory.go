package autorepay

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps the registry as an append-only arena of account slots
// with an index from account to slot.
type MemoryStore struct {
	mu        sync.RWMutex
	arena     []common.Address
	index     map[common.Address]Slot
	positions map[common.Address]*Position
	fees      FeeTotals
	sweep     SweepState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index:     make(map[common.Address]Slot),
		positions: make(map[common.Address]*Position),
		fees:      FeeTotals{}.Clone(),
	}
}

func (s *MemoryStore) Position(account common.Address) (*Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[account]
	if !ok {
		return nil, false, nil
	}
	return pos.Clone(), true, nil
}

func (s *MemoryStore) Slot(account common.Address) (Slot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.index[account]
	return slot, ok, nil
}

func (s *MemoryStore) Accounts() ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.arena...), nil
}

func (s *MemoryStore) FeeTotals() (FeeTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees.Clone(), nil
}

func (s *MemoryStore) SweepState() (SweepState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sweep, nil
}

// Apply validates the fee delta before touching anything, so a rejected
// changeset leaves the store unchanged.
func (s *MemoryStore) Apply(cs *Changeset) error {
	if cs.empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fees, err := s.fees.Apply(cs.Fees)
	if err != nil {
		return err
	}
	for _, account := range cs.Register {
		if _, ok := s.index[account]; ok {
			continue
		}
		s.index[account] = Slot(len(s.arena))
		s.arena = append(s.arena, account)
	}
	for account, pos := range cs.Positions {
		s.positions[account] = pos.Clone()
	}
	s.fees = fees
	if cs.Sweep != nil {
		s.sweep = *cs.Sweep
	}
	return nil
}
