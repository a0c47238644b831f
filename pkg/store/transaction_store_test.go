package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
	"github.com/tessara-labs/payguard/pkg/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tx(id, agentID, amount string, status contracts.TransactionStatus, createdAt time.Time) contracts.Transaction {
	return contracts.Transaction{
		ID:        id,
		IntentID:  "intent-" + id,
		AgentID:   agentID,
		Amount:    dec(amount),
		Currency:  "USD",
		Recipient: "0xA",
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestMemoryTransactionStore_SucceededSumSince(t *testing.T) {
	s := store.NewMemoryTransactionStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, tx("t1", "a-1", "40", contracts.TxSucceeded, now.Add(-2*time.Hour))))
	require.NoError(t, s.Append(ctx, tx("t2", "a-1", "40", contracts.TxSucceeded, now.Add(-10*time.Minute))))
	require.NoError(t, s.Append(ctx, tx("t3", "a-1", "500", contracts.TxFailed, now.Add(-5*time.Minute))))
	require.NoError(t, s.Append(ctx, tx("t4", "a-2", "99", contracts.TxSucceeded, now.Add(-time.Minute))))

	sum, err := s.SucceededSumSince(ctx, "a-1", now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("80")), "failed and foreign transactions must not count, got %s", sum)

	sum, err = s.SucceededSumSince(ctx, "a-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("40")))
}

func TestMemoryTransactionStore_SucceededCountSince(t *testing.T) {
	s := store.NewMemoryTransactionStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

	for i, age := range []time.Duration{5 * time.Minute, 30 * time.Minute, 90 * time.Minute} {
		require.NoError(t, s.Append(ctx, tx(string(rune('a'+i)), "a-1", "1", contracts.TxSucceeded, now.Add(-age))))
	}
	require.NoError(t, s.Append(ctx, tx("f", "a-1", "1", contracts.TxFailed, now.Add(-time.Minute))))

	n, err := s.SucceededCountSince(ctx, "a-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SucceededCountSince(ctx, "a-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryTransactionStore_GetUpdate(t *testing.T) {
	s := store.NewMemoryTransactionStore()
	ctx := context.Background()

	record := tx("t1", "a-1", "10", contracts.TxPending, time.Now())
	require.NoError(t, s.Append(ctx, record))

	record.Status = contracts.TxSucceeded
	record.SettlementHash = "0xabc"
	require.NoError(t, s.Update(ctx, record))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, contracts.TxSucceeded, got.Status)
	assert.Equal(t, "0xabc", got.SettlementHash)

	_, err = s.Get(ctx, "missing")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
	assert.True(t, fault.IsKind(s.Update(ctx, tx("missing", "a-1", "1", contracts.TxPending, time.Now())), fault.KindNotFound))
}

func TestTakeSnapshot_WindowAnchors(t *testing.T) {
	s := store.NewMemoryTransactionStore()
	ctx := context.Background()
	// 00:30 local: the calendar day window is 30 minutes old even though the
	// rolling day window reaches back a full 24 hours.
	now := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, tx("yesterday", "a-1", "100", contracts.TxSucceeded, now.Add(-2*time.Hour))))
	require.NoError(t, s.Append(ctx, tx("today", "a-1", "25", contracts.TxSucceeded, now.Add(-10*time.Minute))))

	snap, err := store.TakeSnapshot(ctx, s, "a-1", now)
	require.NoError(t, err)
	assert.True(t, snap.DaySpend.Equal(dec("25")), "day spend anchors at midnight, got %s", snap.DaySpend)
	assert.True(t, snap.HourSpend.Equal(dec("25")))
	assert.Equal(t, 2, snap.RollingDayCount)
	assert.Equal(t, 1, snap.RollingHourCount)
	assert.Equal(t, now, snap.TakenAt)
}

type brokenStore struct {
	store.TransactionStore
}

func (brokenStore) Snapshot(ctx context.Context, agentID string, now time.Time) (*store.Snapshot, error) {
	return nil, errors.New("db gone")
}

func TestTakeSnapshot_HistoryUnavailableFailsClosed(t *testing.T) {
	_, err := store.TakeSnapshot(context.Background(), brokenStore{}, "a-1", time.Now())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindHistoryUnavailable))
}

func TestSnapshot_ConsistentUnderConcurrentWrites(t *testing.T) {
	base := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	stores := map[string]store.TransactionStore{
		"memory": store.NewMemoryTransactionStore(),
		"sqlite": newSQLiteTxStore(t),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writes = 20
			errs := make(chan error, writes)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < writes; i++ {
					errs <- s.Append(ctx, tx(fmt.Sprintf("t-%d", i), "a-1", "10", contracts.TxSucceeded, base))
				}
			}()

			// Every write lands inside all four windows, so a snapshot taken at
			// any point mid-stream must agree with itself: spend is exactly $10
			// per counted transaction, never a count without its spend.
			for i := 0; i < 50; i++ {
				snap, err := s.Snapshot(ctx, "a-1", base)
				require.NoError(t, err)
				want := dec("10").Mul(decimal.NewFromInt(int64(snap.RollingDayCount)))
				assert.True(t, snap.DaySpend.Equal(want),
					"day spend %s disagrees with rolling day count %d", snap.DaySpend, snap.RollingDayCount)
				assert.True(t, snap.HourSpend.Equal(snap.DaySpend))
				assert.Equal(t, snap.RollingDayCount, snap.RollingHourCount)
			}

			<-done
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
		})
	}
}
