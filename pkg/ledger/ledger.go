// Package ledger records every financial event as an immutable, hash-chained
// entry. Append is the only mutation; corrections are made by appending a
// compensating entry, never by rewriting history.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/tessara-labs/payguard/pkg/contracts"
)

// EntryType categorizes the financial event an entry records.
type EntryType string

const (
	EntryIntentCreated  EntryType = "intent_created"
	EntryIntentBlocked  EntryType = "intent_blocked"
	EntryIntentApproved EntryType = "intent_approved"
	EntryIntentRejected EntryType = "intent_rejected"
	EntryExecutionBegan EntryType = "execution_began"
	EntrySettled        EntryType = "settled"
	EntrySettlementFail EntryType = "settlement_failed"
	EntryCompensation   EntryType = "compensation"
)

// Entry is one immutable audit record. ContentHash covers the entry and the
// previous head, chaining the ledger so tampering is detectable.
type Entry struct {
	ID            string    `json:"id"`
	Sequence      uint64    `json:"sequence"`
	AgentID       string    `json:"agent_id"`
	IntentID      string    `json:"intent_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Type          EntryType `json:"type"`
	Description   string    `json:"description"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	// Checks embeds the guard verdicts that led to this event, for audit.
	Checks []contracts.CheckResult `json:"checks,omitempty"`

	ContentHash string `json:"content_hash"`
	PrevHash    string `json:"prev_hash"`
}

// Filter selects entries; all provided fields must match (conjunctive).
type Filter struct {
	AgentID       string
	IntentID      string
	TransactionID string
	Start         *time.Time
	End           *time.Time
	Limit         int
}

func (f Filter) matches(e Entry) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.IntentID != "" && e.IntentID != f.IntentID {
		return false
	}
	if f.TransactionID != "" && e.TransactionID != f.TransactionID {
		return false
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// Recorder is the ledger surface the rest of the system consumes.
type Recorder interface {
	// Append writes an entry. The store assigns id, sequence, timestamp, and
	// hashes; callers fill the event fields only.
	Append(ctx context.Context, e Entry) (*Entry, error)

	// Query returns matching entries sorted by timestamp descending.
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

const genesisHash = "genesis"

// hashEntry computes the JCS-canonical SHA-256 content hash of an entry.
// Every audit-relevant field participates; the timestamp is fixed to UTC
// RFC 3339 so a stored-and-reloaded entry hashes identically.
func hashEntry(e Entry) (string, error) {
	hashInput := struct {
		Sequence      uint64                  `json:"sequence"`
		AgentID       string                  `json:"agent_id"`
		IntentID      string                  `json:"intent_id"`
		TransactionID string                  `json:"transaction_id"`
		Type          EntryType               `json:"type"`
		Description   string                  `json:"description"`
		Amount        string                  `json:"amount"`
		Currency      string                  `json:"currency"`
		Timestamp     string                  `json:"timestamp"`
		Checks        []contracts.CheckResult `json:"checks,omitempty"`
		PrevHash      string                  `json:"prev_hash"`
	}{e.Sequence, e.AgentID, e.IntentID, e.TransactionID, e.Type, e.Description, e.Amount,
		e.Currency, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Checks, e.PrevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// MemoryLedger is a mutex-guarded in-memory Recorder.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{headHash: genesisHash, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

func (l *MemoryLedger) Append(ctx context.Context, e Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.ID = uuid.New().String()
	e.Sequence = uint64(len(l.entries)) + 1
	e.Timestamp = l.clock()
	e.PrevHash = l.headHash

	hash, err := hashEntry(e)
	if err != nil {
		return nil, err
	}
	e.ContentHash = hash

	l.entries = append(l.entries, e)
	l.headHash = hash
	cp := e
	return &cp, nil
}

func (l *MemoryLedger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	// Entries are append-ordered; walking backwards yields timestamp descending.
	for i := len(l.entries) - 1; i >= 0; i-- {
		if f.matches(l.entries[i]) {
			out = append(out, l.entries[i])
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	return out, nil
}

// Verify walks the chain and reports the first break, if any.
func (l *MemoryLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := genesisHash
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := hashEntry(e)
		if err != nil {
			return false, fmt.Sprintf("hash entry %d: %v", i+1, err)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return true, "chain verified"
}

// Length returns the number of entries.
func (l *MemoryLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
