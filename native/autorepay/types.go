package autorepay

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one account's ledger record. Collateral is in principal units
// and Borrowed in USD, both 18-decimal fixed point.
type Position struct {
	Collateral  *big.Int
	Borrowed    *big.Int
	LastUpdated uint64
}

// ZeroPosition is the record returned for unknown accounts.
func ZeroPosition() *Position {
	return &Position{Collateral: big.NewInt(0), Borrowed: big.NewInt(0)}
}

// Clone returns a deep copy with nil amounts replaced by zero.
func (p *Position) Clone() *Position {
	if p == nil {
		return ZeroPosition()
	}
	return &Position{
		Collateral:  copyOrZero(p.Collateral),
		Borrowed:    copyOrZero(p.Borrowed),
		LastUpdated: p.LastUpdated,
	}
}

// IsEmpty reports whether the position holds neither collateral nor debt.
func (p *Position) IsEmpty() bool {
	return p == nil || (sign(p.Collateral) == 0 && sign(p.Borrowed) == 0)
}

// Slot is the stable arena index assigned to an account at registration.
type Slot uint64

// AccountPosition pairs a registered account with its position.
type AccountPosition struct {
	Account  common.Address
	Slot     Slot
	Position *Position
}

// FeeTotals tracks skimmed fees. Skimmed only grows; Pending is the part not
// yet delivered to the fee sink.
type FeeTotals struct {
	Skimmed *big.Int
	Pending *big.Int
}

func (f FeeTotals) Clone() FeeTotals {
	return FeeTotals{Skimmed: copyOrZero(f.Skimmed), Pending: copyOrZero(f.Pending)}
}

// FeeDelta is a signed adjustment to FeeTotals.
type FeeDelta struct {
	Skimmed *big.Int
	Pending *big.Int
}

func (d *FeeDelta) negate() *FeeDelta {
	if d == nil {
		return nil
	}
	return &FeeDelta{
		Skimmed: new(big.Int).Neg(copyOrZero(d.Skimmed)),
		Pending: new(big.Int).Neg(copyOrZero(d.Pending)),
	}
}

// Apply returns totals adjusted by d, failing if either total would go
// negative.
func (f FeeTotals) Apply(d *FeeDelta) (FeeTotals, error) {
	out := f.Clone()
	if d == nil {
		return out, nil
	}
	if d.Skimmed != nil {
		out.Skimmed.Add(out.Skimmed, d.Skimmed)
	}
	if d.Pending != nil {
		out.Pending.Add(out.Pending, d.Pending)
	}
	if out.Skimmed.Sign() < 0 || out.Pending.Sign() < 0 {
		return f, errNegativeValue
	}
	return out, nil
}

// SweepState is the protocol-wide sweep bookkeeping.
type SweepState struct {
	LastUpdate uint64
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func sign(v *big.Int) int {
	if v == nil {
		return 0
	}
	return v.Sign()
}
