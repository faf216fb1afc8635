package autorepay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Custody moves the principal asset between users and the protocol vault.
type Custody interface {
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, spender common.Address, amount *big.Int) error
}

// YieldMarket is the external market holding pooled collateral.
type YieldMarket interface {
	Supply(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error
	// Withdraw returns the amount actually released, which may differ from
	// the requested amount.
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	PooledBalance(ctx context.Context) (*big.Int, error)
}

// FeeSink receives skimmed fees, typically a secondary vault.
type FeeSink interface {
	DepositFee(ctx context.Context, amount *big.Int) error
}
