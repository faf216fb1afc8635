package paper

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("paper: insufficient balance")
	ErrInsufficientAllowance = errors.New("paper: insufficient allowance")
	errInvalidAmount         = errors.New("paper: amount must be positive")
)

// Bank simulates the principal asset: balances per address plus allowances
// granted by the protocol vault. It satisfies autorepay.Custody.
type Bank struct {
	vault common.Address

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
}

// NewBank returns a bank whose custody account is vault.
func NewBank(vault common.Address) *Bank {
	return &Bank{
		vault:      vault,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
	}
}

// Vault is the protocol custody address.
func (b *Bank) Vault() common.Address { return b.vault }

// Mint credits account out of thin air; used to fund paper users.
func (b *Bank) Mint(account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(account, amount)
}

// Balance returns a copy of account's balance.
func (b *Bank) Balance(account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (b *Bank) credit(account common.Address, amount *big.Int) {
	bal, ok := b.balances[account]
	if !ok {
		bal = big.NewInt(0)
		b.balances[account] = bal
	}
	bal.Add(bal, amount)
}

func (b *Bank) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal := b.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), balanceString(bal), amount)
	}
	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

func (b *Bank) TransferIn(_ context.Context, from common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, b.vault, amount)
}

func (b *Bank) TransferOut(_ context.Context, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(b.vault, to, amount)
}

// Approve sets the vault's allowance for spender, replacing any previous one.
func (b *Bank) Approve(_ context.Context, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[spender] = new(big.Int).Set(amount)
	return nil
}

// pull moves amount from the vault to spender, consuming its allowance.
func (b *Bank) pull(spender common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	allowance := b.allowances[spender]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientAllowance, spender.Hex())
	}
	if err := b.move(b.vault, spender, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// send moves funds between two non-vault holders.
func (b *Bank) send(from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

func balanceString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
