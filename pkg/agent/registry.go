// Package agent tracks the initiating identities whose spending the guards
// constrain. Counters and reputation move only on terminal transaction
// outcomes; guards never read agents directly.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
)

// Registry persists agents and applies transaction outcomes to them.
type Registry interface {
	Get(ctx context.Context, agentID string) (*contracts.Agent, error)
	Put(ctx context.Context, a contracts.Agent) error

	// RecordOutcome updates spend counters and the reputation score after a
	// transaction reaches a terminal status.
	RecordOutcome(ctx context.Context, agentID string, amount decimal.Decimal, succeeded bool) error
}

const (
	reputationStart   = 50.0
	reputationMax     = 100.0
	reputationMin     = 0.0
	reputationSuccess = 1.0
	reputationFailure = 5.0
)

// applyOutcome mutates counters and reputation in place.
func applyOutcome(a *contracts.Agent, amount decimal.Decimal, succeeded bool, now time.Time) {
	a.TxCount++
	if succeeded {
		a.TotalSpend = a.TotalSpend.Add(amount)
		a.Reputation += reputationSuccess
		if a.Reputation > reputationMax {
			a.Reputation = reputationMax
		}
	} else {
		a.Reputation -= reputationFailure
		if a.Reputation < reputationMin {
			a.Reputation = reputationMin
		}
	}
	a.UpdatedAt = now
}

// MemoryRegistry is a mutex-guarded in-memory Registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	agents map[string]*contracts.Agent
	clock  func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		agents: make(map[string]*contracts.Agent),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (r *MemoryRegistry) WithClock(clock func() time.Time) *MemoryRegistry {
	r.clock = clock
	return r
}

func (r *MemoryRegistry) Get(ctx context.Context, agentID string) (*contracts.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, fault.NotFound("agent", agentID)
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRegistry) Put(ctx context.Context, a contracts.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-registering updates identity fields only; counters survive.
	if existing, ok := r.agents[a.ID]; ok {
		a.TotalSpend = existing.TotalSpend
		a.TxCount = existing.TxCount
		a.Reputation = existing.Reputation
	} else if a.Reputation == 0 && a.TxCount == 0 {
		a.Reputation = reputationStart
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = r.clock()
	}
	cp := a
	r.agents[a.ID] = &cp
	return nil
}

func (r *MemoryRegistry) RecordOutcome(ctx context.Context, agentID string, amount decimal.Decimal, succeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return fault.NotFound("agent", agentID)
	}
	applyOutcome(a, amount, succeeded, r.clock())
	return nil
}
