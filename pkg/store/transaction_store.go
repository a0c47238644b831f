// Package store persists payment intents and transactions, and answers the
// windowed history queries the guard engine needs. In-memory implementations
// back tests and single-node runs; SQLite implementations back durable runs.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
)

// TransactionStore records transactions and serves the history windows used
// for budget sums and rate counts. Only succeeded transactions ever count
// toward either.
type TransactionStore interface {
	Append(ctx context.Context, tx contracts.Transaction) error
	Get(ctx context.Context, txID string) (*contracts.Transaction, error)
	Update(ctx context.Context, tx contracts.Transaction) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]contracts.Transaction, error)

	// SucceededSumSince returns the sum of succeeded transaction amounts for
	// the agent created at or after since.
	SucceededSumSince(ctx context.Context, agentID string, since time.Time) (decimal.Decimal, error)

	// SucceededCountSince returns the count of succeeded transactions for the
	// agent created at or after since.
	SucceededCountSince(ctx context.Context, agentID string, since time.Time) (int, error)

	// Snapshot computes all of an agent's history aggregates atomically: one
	// lock acquisition or one statement, so the result reflects a single
	// instant even while a concurrent writer is appending.
	Snapshot(ctx context.Context, agentID string, now time.Time) (*Snapshot, error)
}

// Snapshot is the consistent history aggregate a single guard evaluation
// reads. Computing it once per evaluation keeps every rule on the same view
// and avoids per-guard history rescans.
type Snapshot struct {
	// DaySpend is succeeded spend since the start of the current calendar day.
	DaySpend decimal.Decimal
	// HourSpend is succeeded spend since the start of the current hour.
	HourSpend decimal.Decimal
	// RollingHourCount is the count of succeeded transactions in the rolling
	// hour ending at TakenAt.
	RollingHourCount int
	// RollingDayCount is the count in the rolling 24 hours ending at TakenAt.
	RollingDayCount int
	TakenAt         time.Time
}

// TakeSnapshot reads the store's atomic aggregate view for one agent at the
// given instant. Any store error fails the snapshot as a whole; missing
// history is never silently treated as zero spend.
func TakeSnapshot(ctx context.Context, txs TransactionStore, agentID string, now time.Time) (*Snapshot, error) {
	snap, err := txs.Snapshot(ctx, agentID, now)
	if err != nil {
		return nil, fault.Wrap(fault.KindHistoryUnavailable, err, "history snapshot for agent %q", agentID)
	}
	return snap, nil
}

// snapshotWindows returns the four window anchors for a snapshot at now: the
// start of the calendar day, the start of the clock hour, and the rolling
// hour and day boundaries.
func snapshotWindows(now time.Time) (dayStart, hourStart, hourAgo, dayAgo time.Time) {
	dayStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	hourStart = now.Truncate(time.Hour)
	hourAgo = now.Add(-time.Hour)
	dayAgo = now.Add(-24 * time.Hour)
	return dayStart, hourStart, hourAgo, dayAgo
}

// MemoryTransactionStore is a mutex-guarded in-memory TransactionStore.
type MemoryTransactionStore struct {
	mu  sync.RWMutex
	txs []contracts.Transaction
}

// NewMemoryTransactionStore creates an empty store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{}
}

func (s *MemoryTransactionStore) Append(ctx context.Context, tx contracts.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *MemoryTransactionStore) Get(ctx context.Context, txID string) (*contracts.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.txs {
		if s.txs[i].ID == txID {
			tx := s.txs[i]
			return &tx, nil
		}
	}
	return nil, fault.NotFound("transaction", txID)
}

func (s *MemoryTransactionStore) Update(ctx context.Context, tx contracts.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.txs {
		if s.txs[i].ID == tx.ID {
			s.txs[i] = tx
			return nil
		}
	}
	return fault.NotFound("transaction", tx.ID)
}

func (s *MemoryTransactionStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]contracts.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].AgentID == agentID {
			out = append(out, s.txs[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryTransactionStore) SucceededSumSince(ctx context.Context, agentID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for i := range s.txs {
		tx := &s.txs[i]
		if tx.AgentID == agentID && tx.Status == contracts.TxSucceeded && !tx.CreatedAt.Before(since) {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (s *MemoryTransactionStore) SucceededCountSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.txs {
		tx := &s.txs[i]
		if tx.AgentID == agentID && tx.Status == contracts.TxSucceeded && !tx.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryTransactionStore) Snapshot(ctx context.Context, agentID string, now time.Time) (*Snapshot, error) {
	dayStart, hourStart, hourAgo, dayAgo := snapshotWindows(now)

	// One pass under one read lock: a concurrent Append lands entirely before
	// or entirely after this view, never between two aggregates.
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{DaySpend: decimal.Zero, HourSpend: decimal.Zero, TakenAt: now}
	for i := range s.txs {
		tx := &s.txs[i]
		if tx.AgentID != agentID || tx.Status != contracts.TxSucceeded {
			continue
		}
		if !tx.CreatedAt.Before(dayStart) {
			snap.DaySpend = snap.DaySpend.Add(tx.Amount)
		}
		if !tx.CreatedAt.Before(hourStart) {
			snap.HourSpend = snap.HourSpend.Add(tx.Amount)
		}
		if !tx.CreatedAt.Before(hourAgo) {
			snap.RollingHourCount++
		}
		if !tx.CreatedAt.Before(dayAgo) {
			snap.RollingDayCount++
		}
	}
	return snap, nil
}
