package lifecycle

import (
	"context"
	"sync"

	"github.com/tessara-labs/payguard/pkg/fault"
)

// IntentLocker serializes lifecycle transitions per intent. The store's
// compare-and-swap already guarantees at-most-one winner; the lock keeps the
// loser from doing wasted guard evaluation and settlement work first.
type IntentLocker interface {
	// TryLock acquires the lock for an intent or fails immediately with a
	// conflict fault. The returned release must be called exactly once.
	TryLock(ctx context.Context, intentID string) (release func(), err error)
}

// MemoryLocker is a process-local IntentLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	inUse map[string]bool
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{inUse: make(map[string]bool)}
}

func (l *MemoryLocker) TryLock(ctx context.Context, intentID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse[intentID] {
		return nil, fault.Conflict(intentID)
	}
	l.inUse[intentID] = true
	return func() {
		l.mu.Lock()
		delete(l.inUse, intentID)
		l.mu.Unlock()
	}, nil
}
