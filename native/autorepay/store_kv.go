package autorepay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"autorepay/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	positionPrefix = []byte("autorepay/pos/")
	slotPrefix     = []byte("autorepay/slot/")
	indexPrefix    = []byte("autorepay/index/")
	registryLenKey = []byte("autorepay/meta/registry-len")
	feesKey        = []byte("autorepay/meta/fees")
	sweepKey       = []byte("autorepay/meta/sweep")
)

type positionRecord struct {
	Collateral  *big.Int
	Borrowed    *big.Int
	LastUpdated uint64
}

type feeRecord struct {
	Skimmed *big.Int
	Pending *big.Int
}

type sweepRecord struct {
	LastUpdate uint64
}

// KVStore persists the ledger in a storage.Database using RLP records. Every
// Apply is written as a single batch.
type KVStore struct {
	db storage.Database

	mu       sync.RWMutex
	registry []common.Address
	index    map[common.Address]Slot
	fees     FeeTotals
	sweep    SweepState
}

// NewKVStore loads the registry and totals from db.
func NewKVStore(db storage.Database) (*KVStore, error) {
	s := &KVStore{db: db, index: make(map[common.Address]Slot)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KVStore) load() error {
	n, err := s.readUint64(registryLenKey)
	if err != nil {
		return fmt.Errorf("load registry length: %w", err)
	}
	for i := uint64(0); i < n; i++ {
		raw, err := s.db.Get(slotKey(Slot(i)))
		if err != nil {
			return fmt.Errorf("load registry slot %d: %w", i, err)
		}
		account := common.BytesToAddress(raw)
		s.index[account] = Slot(i)
		s.registry = append(s.registry, account)
	}

	s.fees = FeeTotals{}.Clone()
	if raw, err := s.db.Get(feesKey); err == nil {
		var rec feeRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return fmt.Errorf("decode fee totals: %w", err)
		}
		s.fees = FeeTotals{Skimmed: rec.Skimmed, Pending: rec.Pending}.Clone()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if raw, err := s.db.Get(sweepKey); err == nil {
		var rec sweepRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return fmt.Errorf("decode sweep state: %w", err)
		}
		s.sweep = SweepState{LastUpdate: rec.LastUpdate}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (s *KVStore) readUint64(key []byte) (uint64, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("malformed counter %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *KVStore) Position(account common.Address) (*Position, bool, error) {
	raw, err := s.db.Get(positionKey(account))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec positionRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode position %s: %w", account.Hex(), err)
	}
	pos := &Position{Collateral: rec.Collateral, Borrowed: rec.Borrowed, LastUpdated: rec.LastUpdated}
	return pos.Clone(), true, nil
}

func (s *KVStore) Slot(account common.Address) (Slot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.index[account]
	return slot, ok, nil
}

func (s *KVStore) Accounts() ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.registry...), nil
}

func (s *KVStore) FeeTotals() (FeeTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees.Clone(), nil
}

func (s *KVStore) SweepState() (SweepState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sweep, nil
}

func (s *KVStore) Apply(cs *Changeset) error {
	if cs.empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fees, err := s.fees.Apply(cs.Fees)
	if err != nil {
		return err
	}

	batch := storage.NewBatch()
	for account, pos := range cs.Positions {
		p := pos.Clone()
		raw, err := rlp.EncodeToBytes(positionRecord{Collateral: p.Collateral, Borrowed: p.Borrowed, LastUpdated: p.LastUpdated})
		if err != nil {
			return fmt.Errorf("encode position %s: %w", account.Hex(), err)
		}
		batch.Put(positionKey(account), raw)
	}

	registry := s.registry
	added := make(map[common.Address]Slot)
	for _, account := range cs.Register {
		if _, ok := s.index[account]; ok {
			continue
		}
		if _, ok := added[account]; ok {
			continue
		}
		slot := Slot(len(registry))
		added[account] = slot
		registry = append(registry, account)
		batch.Put(slotKey(slot), account.Bytes())
		batch.Put(indexKey(account), encodeUint64(uint64(slot)))
	}
	if len(added) > 0 {
		batch.Put(registryLenKey, encodeUint64(uint64(len(registry))))
	}

	if cs.Fees != nil {
		raw, err := rlp.EncodeToBytes(feeRecord{Skimmed: fees.Skimmed, Pending: fees.Pending})
		if err != nil {
			return fmt.Errorf("encode fee totals: %w", err)
		}
		batch.Put(feesKey, raw)
	}
	if cs.Sweep != nil {
		raw, err := rlp.EncodeToBytes(sweepRecord{LastUpdate: cs.Sweep.LastUpdate})
		if err != nil {
			return fmt.Errorf("encode sweep state: %w", err)
		}
		batch.Put(sweepKey, raw)
	}

	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("write ledger batch: %w", err)
	}

	s.registry = registry
	for account, slot := range added {
		s.index[account] = slot
	}
	s.fees = fees
	if cs.Sweep != nil {
		s.sweep = *cs.Sweep
	}
	return nil
}

func positionKey(account common.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), account.Bytes()...)
}

func indexKey(account common.Address) []byte {
	return append(append([]byte(nil), indexPrefix...), account.Bytes()...)
}

func slotKey(slot Slot) []byte {
	return append(append([]byte(nil), slotPrefix...), encodeUint64(uint64(slot))...)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
