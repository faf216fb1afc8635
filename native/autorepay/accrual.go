package autorepay

import "math/big"

// YieldModel computes the yield attributable to a position, in principal
// units, given the protocol-wide pooled balance.
type YieldModel interface {
	Yield(pos *Position, pooledBalance *big.Int) (*big.Int, error)
}

// PooledExcessYield attributes max(0, pooled - collateral) to the position.
// The pooled balance is protocol-wide while the collateral is per-account, so
// with several depositors every account sees the other accounts' principal as
// yield. Kept behind YieldModel so a share-based model can replace it.
type PooledExcessYield struct{}

func (PooledExcessYield) Yield(pos *Position, pooledBalance *big.Int) (*big.Int, error) {
	if pooledBalance == nil || pooledBalance.Cmp(pos.Collateral) <= 0 {
		return big.NewInt(0), nil
	}
	return checkedSub(pooledBalance, pos.Collateral)
}

// AccrualEngine is the only code path that reduces debt.
type AccrualEngine struct {
	model YieldModel
}

func NewAccrualEngine(model YieldModel) *AccrualEngine {
	if model == nil {
		model = PooledExcessYield{}
	}
	return &AccrualEngine{model: model}
}

// Accrue applies yield since pos.LastUpdated to pos in place and returns the
// USD amount of debt repaid. When no time has elapsed or no debt is
// outstanding only the timestamp moves. A clock behind LastUpdated leaves
// the position untouched.
func (a *AccrualEngine) Accrue(pos *Position, pooledBalance, price *big.Int, now uint64) (*big.Int, error) {
	if pos.Collateral == nil {
		pos.Collateral = big.NewInt(0)
	}
	if pos.Borrowed == nil {
		pos.Borrowed = big.NewInt(0)
	}
	if now <= pos.LastUpdated {
		return big.NewInt(0), nil
	}
	if pos.Borrowed.Sign() == 0 {
		pos.LastUpdated = now
		return big.NewInt(0), nil
	}

	yield, err := a.model.Yield(pos, pooledBalance)
	if err != nil {
		return nil, err
	}
	yieldUSD, err := mulDiv(yield, price, wad)
	if err != nil {
		return nil, err
	}
	applied := minBig(yieldUSD, pos.Borrowed)
	borrowed, err := checkedSub(pos.Borrowed, applied)
	if err != nil {
		return nil, err
	}
	pos.Borrowed = borrowed
	pos.LastUpdated = now
	return applied, nil
}
