package exports

import (
	"fmt"
	"math/big"

	"autorepay/native/autorepay"
	"autorepay/storage/trie"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

type positionLeaf struct {
	Slot        uint64
	Collateral  *big.Int
	Borrowed    *big.Int
	LastUpdated uint64
}

// PositionsRoot commits to every registered position. Leaves are keyed by
// account address and hold the rlp encoding of slot and balances, so two
// snapshots share a root exactly when their position sets match.
func PositionsRoot(snapshot *autorepay.Snapshot) (common.Hash, error) {
	if snapshot == nil {
		return common.Hash{}, fmt.Errorf("exports: nil snapshot")
	}
	builder := trie.NewBuilder()
	for _, entry := range snapshot.Positions {
		pos := entry.Position.Clone()
		leaf, err := rlp.EncodeToBytes(positionLeaf{
			Slot:        uint64(entry.Slot),
			Collateral:  pos.Collateral,
			Borrowed:    pos.Borrowed,
			LastUpdated: pos.LastUpdated,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("exports: encode %s: %w", entry.Account.Hex(), err)
		}
		if err := builder.Put(entry.Account.Bytes(), leaf); err != nil {
			return common.Hash{}, fmt.Errorf("exports: insert %s: %w", entry.Account.Hex(), err)
		}
	}
	return builder.Root(), nil
}
