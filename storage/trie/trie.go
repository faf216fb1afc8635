package trie

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// EmptyRoot is the root of a trie with no entries.
var EmptyRoot = gethtypes.EmptyRootHash

// Builder accumulates key/value pairs in an in-memory Merkle Patricia trie and
// reports its root. Keys are keccak256-hashed before insertion so callers pass
// natural keys such as account addresses.
//
// Builder is not safe for concurrent use.
type Builder struct {
	trie *gethtrie.Trie
	size int
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	db := triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil)
	return &Builder{trie: gethtrie.NewEmpty(db)}
}

// Put inserts or replaces the value stored under key. An empty value deletes
// the key.
func (b *Builder) Put(key, value []byte) error {
	hashed := crypto.Keccak256(key)
	if len(value) == 0 {
		return b.trie.Delete(hashed)
	}
	if err := b.trie.Update(hashed, value); err != nil {
		return err
	}
	b.size++
	return nil
}

// Get returns the value stored under key, or nil.
func (b *Builder) Get(key []byte) ([]byte, error) {
	return b.trie.Get(crypto.Keccak256(key))
}

// Len reports how many Put calls inserted a value.
func (b *Builder) Len() int { return b.size }

// Root returns the root hash over every entry inserted so far.
func (b *Builder) Root() common.Hash {
	return b.trie.Hash()
}
