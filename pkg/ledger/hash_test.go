package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEntry_CoversEveryAuditField(t *testing.T) {
	base := Entry{
		Sequence:      1,
		AgentID:       "a-1",
		IntentID:      "i-1",
		TransactionID: "t-1",
		Type:          EntrySettled,
		Description:   "payment settled",
		Amount:        "25.50",
		Currency:      "USD",
		Timestamp:     time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
		PrevHash:      genesisHash,
	}
	original, err := hashEntry(base)
	require.NoError(t, err)

	same, err := hashEntry(base)
	require.NoError(t, err)
	assert.Equal(t, original, same, "hashing is deterministic")

	mutations := map[string]func(e *Entry){
		"transaction_id": func(e *Entry) { e.TransactionID = "t-2" },
		"currency":       func(e *Entry) { e.Currency = "EUR" },
		"timestamp":      func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"amount":         func(e *Entry) { e.Amount = "26.50" },
		"description":    func(e *Entry) { e.Description = "refund settled" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			changed := base
			mutate(&changed)
			hash, err := hashEntry(changed)
			require.NoError(t, err)
			assert.NotEqual(t, original, hash)
		})
	}
}

func TestHashEntry_TimestampZoneIndependent(t *testing.T) {
	base := Entry{Sequence: 1, AgentID: "a-1", IntentID: "i-1", Type: EntryIntentCreated,
		Timestamp: time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC), PrevHash: genesisHash}
	shifted := base
	shifted.Timestamp = base.Timestamp.In(time.FixedZone("CET", 3600))

	h1, err := hashEntry(base)
	require.NoError(t, err)
	h2, err := hashEntry(shifted)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "same instant hashes the same regardless of zone")
}

func TestVerify_DetectsTamperedFields(t *testing.T) {
	tampers := map[string]func(e *Entry){
		"transaction_id": func(e *Entry) { e.TransactionID = "forged" },
		"currency":       func(e *Entry) { e.Currency = "BTC" },
		"timestamp":      func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Hour) },
	}
	for name, tamper := range tampers {
		t.Run(name, func(t *testing.T) {
			l := NewMemoryLedger()
			ctx := context.Background()
			_, err := l.Append(ctx, Entry{AgentID: "a-1", IntentID: "i-1", TransactionID: "t-1",
				Type: EntrySettled, Amount: "10", Currency: "USD"})
			require.NoError(t, err)
			_, err = l.Append(ctx, Entry{AgentID: "a-1", IntentID: "i-2", Type: EntryIntentCreated})
			require.NoError(t, err)

			ok, _ := l.Verify()
			require.True(t, ok)

			tamper(&l.entries[0])
			ok, detail := l.Verify()
			assert.False(t, ok)
			assert.Contains(t, detail, "hash mismatch at entry 1")
		})
	}
}
