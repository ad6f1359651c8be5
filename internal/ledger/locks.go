/**
 * @description
 * This file implements the concurrency guard that serializes ledger mutations.
 * Each account has its own mutex; a transfer acquires every lock it needs in
 * lexicographic id order and holds them all for the duration of execution,
 * which rules out deadlock between transfers touching overlapping accounts
 * and rules out readers observing a partially applied transfer.
 */

package ledger

import (
	"sort"
	"sync"
)

// Guard hands out per-account locks. Lock structs are created lazily so the
// guard also covers accounts that might be registered by future seeds.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard creates an empty concurrency guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

func (g *Guard) lockFor(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

// AcquireAccounts locks every given account, deduplicated and in
// lexicographic order, and returns a release function that unlocks them in
// reverse order. The fixed global order is what prevents deadlock when two
// concurrent transfers touch overlapping accounts.
func (g *Guard) AcquireAccounts(ids ...string) (release func()) {
	unique := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, seen := unique[id]; seen {
			continue
		}
		unique[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		l := g.lockFor(id)
		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
