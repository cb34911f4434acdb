package processor

import (
	"sort"
	"sync"
)

// accountLocks serializes ledger-affecting work per account. Locks are
// always taken in lexicographic account-ID order so cross-account transfers
// cannot deadlock.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *accountLocks) lockFor(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// acquire locks the given accounts in lexicographic order and returns the
// release function. Duplicate IDs are collapsed.
func (l *accountLocks) acquire(accountIDs ...string) func() {
	unique := make([]string, 0, len(accountIDs))
	seen := make(map[string]bool)
	for _, id := range accountIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		m := l.lockFor(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
