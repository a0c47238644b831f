package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tessara-labs/payguard/pkg/fault"
)

// Store persists guard configuration per workspace.
type Store interface {
	// ListGuards returns all guards for a workspace ordered by position.
	ListGuards(ctx context.Context, workspaceID string) ([]Guard, error)

	// ListEnabled returns the enabled guards for a workspace ordered by
	// position. This is the set the engine evaluates.
	ListEnabled(ctx context.Context, workspaceID string) ([]Guard, error)

	// GetGuard fetches a single guard.
	GetGuard(ctx context.Context, workspaceID, guardID string) (*Guard, error)

	// PutGuard inserts or replaces a guard. The config must already have
	// passed schema validation.
	PutGuard(ctx context.Context, g Guard) error

	// DeleteGuard removes a guard.
	DeleteGuard(ctx context.Context, workspaceID, guardID string) error
}

// MemoryStore is a thread-safe in-memory Store for tests and single-node use.
type MemoryStore struct {
	mu     sync.RWMutex
	guards map[string]map[string]Guard // workspace -> guard id -> guard
	clock  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guards: make(map[string]map[string]Guard),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) ListGuards(ctx context.Context, workspaceID string) ([]Guard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Guard, 0, len(s.guards[workspaceID]))
	for _, g := range s.guards[workspaceID] {
		out = append(out, g)
	}
	sortGuards(out)
	return out, nil
}

func (s *MemoryStore) ListEnabled(ctx context.Context, workspaceID string) ([]Guard, error) {
	all, err := s.ListGuards(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	enabled := all[:0:0]
	for _, g := range all {
		if g.Enabled {
			enabled = append(enabled, g)
		}
	}
	return enabled, nil
}

func (s *MemoryStore) GetGuard(ctx context.Context, workspaceID, guardID string) (*Guard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.guards[workspaceID][guardID]
	if !ok {
		return nil, fault.NotFound("guard", guardID)
	}
	return &g, nil
}

func (s *MemoryStore) PutGuard(ctx context.Context, g Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guards[g.WorkspaceID] == nil {
		s.guards[g.WorkspaceID] = make(map[string]Guard)
	}
	if existing, ok := s.guards[g.WorkspaceID][g.ID]; ok {
		g.CreatedAt = existing.CreatedAt
	} else if g.CreatedAt.IsZero() {
		g.CreatedAt = s.clock()
	}
	g.UpdatedAt = s.clock()
	s.guards[g.WorkspaceID][g.ID] = g
	return nil
}

func (s *MemoryStore) DeleteGuard(ctx context.Context, workspaceID, guardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guards[workspaceID][guardID]; !ok {
		return fault.NotFound("guard", guardID)
	}
	delete(s.guards[workspaceID], guardID)
	return nil
}

func sortGuards(guards []Guard) {
	sort.SliceStable(guards, func(i, j int) bool {
		if guards[i].Position != guards[j].Position {
			return guards[i].Position < guards[j].Position
		}
		return guards[i].ID < guards[j].ID
	})
}
