package autorepay

import (
	"fmt"
	"math/big"
)

// CollateralPolicy derives the borrow ceiling from collateral value.
type CollateralPolicy struct {
	// RatioPct is the collateralisation ratio in percent, e.g. 150.
	RatioPct uint32
}

// MaxBorrow returns collateral * price * 100 / (RatioPct * 1e18), truncated.
func (p CollateralPolicy) MaxBorrow(collateral, price *big.Int) (*big.Int, error) {
	if p.RatioPct == 0 {
		return nil, fmt.Errorf("%w: collateral ratio unset", ErrNotConfigured)
	}
	scaledPrice, err := mulDiv(price, percent, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	denominator := new(big.Int).Mul(big.NewInt(int64(p.RatioPct)), wad)
	return mulDiv(collateral, scaledPrice, denominator)
}

// AssertWithdrawable rejects any position that still carries debt.
func (CollateralPolicy) AssertWithdrawable(pos *Position) error {
	if pos != nil && sign(pos.Borrowed) > 0 {
		return ErrDebtNotFullyRepaid
	}
	return nil
}
