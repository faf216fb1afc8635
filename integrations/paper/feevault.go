package paper

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FeeVault is a secondary vault receiving skimmed fees. It mints vault shares
// one-to-one with the deposited asset.
type FeeVault struct {
	bank    *Bank
	address common.Address

	mu     sync.Mutex
	shares *big.Int
}

func NewFeeVault(bank *Bank, address common.Address) *FeeVault {
	return &FeeVault{bank: bank, address: address, shares: big.NewInt(0)}
}

func (v *FeeVault) Address() common.Address { return v.address }

// DepositFee pulls amount from the protocol vault under its allowance.
func (v *FeeVault) DepositFee(_ context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := v.bank.pull(v.address, amount); err != nil {
		return err
	}
	v.mu.Lock()
	v.shares.Add(v.shares, amount)
	v.mu.Unlock()
	return nil
}

// Shares returns the total vault shares issued to the protocol.
func (v *FeeVault) Shares() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.shares)
}
