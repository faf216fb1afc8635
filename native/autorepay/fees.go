package autorepay

import (
	"fmt"
	"math/big"
)

// FeeSkim takes Bps of every deposit for the fee sink.
type FeeSkim struct {
	Bps uint32
}

// Split returns fee = amount*Bps/10_000 (truncated) and net = amount - fee.
// A nil skim charges nothing.
func (s *FeeSkim) Split(amount *big.Int) (fee, net *big.Int, err error) {
	if s == nil || s.Bps == 0 {
		return big.NewInt(0), new(big.Int).Set(amount), nil
	}
	if s.Bps > 10_000 {
		return nil, nil, fmt.Errorf("%w: fee above 100%%", ErrNotConfigured)
	}
	fee, err = mulDiv(amount, big.NewInt(int64(s.Bps)), basisPoints)
	if err != nil {
		return nil, nil, err
	}
	net, err = checkedSub(amount, fee)
	if err != nil {
		return nil, nil, err
	}
	return fee, net, nil
}
