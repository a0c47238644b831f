package store

import (
	"context"
	"sync"
	"time"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
)

// IntentStore persists payment intents. Status changes go through
// TransitionStatus, a compare-and-swap: the transition only applies when the
// stored status still equals from, so two concurrent callers can never both
// advance the same intent.
type IntentStore interface {
	Create(ctx context.Context, intent contracts.PaymentIntent) error
	Get(ctx context.Context, intentID string) (*contracts.PaymentIntent, error)

	// TransitionStatus atomically moves the intent from one status to another
	// and applies mutate to the stored record while holding the transition.
	// Returns a conflict fault when the stored status no longer equals from.
	TransitionStatus(ctx context.Context, intentID string, from, to contracts.IntentStatus, mutate func(*contracts.PaymentIntent)) (*contracts.PaymentIntent, error)

	ListByAgent(ctx context.Context, agentID string, limit int) ([]contracts.PaymentIntent, error)
}

// MemoryIntentStore is a mutex-guarded in-memory IntentStore.
type MemoryIntentStore struct {
	mu      sync.Mutex
	intents map[string]*contracts.PaymentIntent
	order   []string
	clock   func() time.Time
}

// NewMemoryIntentStore creates an empty store.
func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{
		intents: make(map[string]*contracts.PaymentIntent),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *MemoryIntentStore) WithClock(clock func() time.Time) *MemoryIntentStore {
	s.clock = clock
	return s
}

func (s *MemoryIntentStore) Create(ctx context.Context, intent contracts.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; ok {
		return fault.New(fault.KindConflict, "intent %q already exists", intent.ID)
	}
	cp := intent
	s.intents[intent.ID] = &cp
	s.order = append(s.order, intent.ID)
	return nil
}

func (s *MemoryIntentStore) Get(ctx context.Context, intentID string) (*contracts.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return nil, fault.NotFound("intent", intentID)
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryIntentStore) TransitionStatus(ctx context.Context, intentID string, from, to contracts.IntentStatus, mutate func(*contracts.PaymentIntent)) (*contracts.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return nil, fault.NotFound("intent", intentID)
	}
	if in.Status != from {
		return nil, fault.Conflict(intentID)
	}
	in.Status = to
	in.UpdatedAt = s.clock()
	if mutate != nil {
		mutate(in)
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryIntentStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]contracts.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.PaymentIntent
	for i := len(s.order) - 1; i >= 0; i-- {
		in := s.intents[s.order[i]]
		if in.AgentID == agentID {
			out = append(out, *in)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
