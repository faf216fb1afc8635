package autorepay

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// accountLocks hands out one mutex per account and drops it when unused.
type accountLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*accountLock
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[common.Address]*accountLock)}
}

// lock blocks until account is held and returns the release func.
func (l *accountLocks) lock(account common.Address) func() {
	l.mu.Lock()
	entry, ok := l.locks[account]
	if !ok {
		entry = &accountLock{}
		l.locks[account] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, account)
		}
		l.mu.Unlock()
	}
}
