package orders

import (
	"sync"

	"github.com/google/uuid"
)

// slotTable enforces one in-flight placement per (user, symbol). It is a
// try-lock, not a queue: a second placement while one is running is an
// error the caller reports, not work to wait on.
type slotTable struct {
	mu    sync.Mutex
	slots map[slotKey]struct{}
}

type slotKey struct {
	userID uuid.UUID
	symbol string
}

func newSlotTable() *slotTable {
	return &slotTable{slots: make(map[slotKey]struct{})}
}

func (t *slotTable) acquire(userID uuid.UUID, symbol string) (release func(), ok bool) {
	key := slotKey{userID: userID, symbol: symbol}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.slots[key]; held {
		return nil, false
	}
	t.slots[key] = struct{}{}

	return func() {
		t.mu.Lock()
		delete(t.slots, key)
		t.mu.Unlock()
	}, true
}
