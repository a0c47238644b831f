package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessara-labs/payguard/pkg/agent"
	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
	"github.com/tessara-labs/payguard/pkg/guard"
	"github.com/tessara-labs/payguard/pkg/ledger"
	"github.com/tessara-labs/payguard/pkg/lifecycle"
	"github.com/tessara-labs/payguard/pkg/policy"
	"github.com/tessara-labs/payguard/pkg/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fixture struct {
	manager *lifecycle.Manager
	guards  *policy.MemoryStore
	intents *store.MemoryIntentStore
	txs     *store.MemoryTransactionStore
	ledger  *ledger.MemoryLedger
	agents  *agent.MemoryRegistry
	settler *lifecycle.SimulatedSettler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := guard.NewEngine(nil)
	require.NoError(t, err)

	f := &fixture{
		guards:  policy.NewMemoryStore(),
		intents: store.NewMemoryIntentStore(),
		txs:     store.NewMemoryTransactionStore(),
		ledger:  ledger.NewMemoryLedger(),
		agents:  agent.NewMemoryRegistry(),
		settler: &lifecycle.SimulatedSettler{},
	}
	require.NoError(t, f.agents.Put(context.Background(), contracts.Agent{ID: "a-1", Name: "payments bot"}))
	f.manager = lifecycle.NewManager(lifecycle.Deps{
		Guards:  f.guards,
		Engine:  engine,
		Intents: f.intents,
		Txs:     f.txs,
		Ledger:  f.ledger,
		Agents:  f.agents,
		Settler: f.settler,
	})
	return f
}

func (f *fixture) putGuard(t *testing.T, g policy.Guard) {
	t.Helper()
	g.WorkspaceID = "ws-1"
	require.NoError(t, f.guards.PutGuard(context.Background(), g))
}

func submitReq(amount string) lifecycle.SubmitRequest {
	return lifecycle.SubmitRequest{
		WorkspaceID: "ws-1",
		AgentID:     "a-1",
		Amount:      dec(amount),
		Currency:    "USD",
		Recipient:   "0xA",
		SourceChain: "ethereum",
		DestChain:   "base",
	}
}

func autoApproveAll(t *testing.T, f *fixture) {
	f.putGuard(t, policy.Guard{
		ID: "g-auto", Type: policy.TypeAutoApprove, Enabled: true,
		Config: policy.AutoApproveConfig{Threshold: decPtr("1000000")},
	})
}

func TestSubmit_ValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.manager.Submit(ctx, lifecycle.SubmitRequest{WorkspaceID: "ws-1", AgentID: "a-1", Amount: dec("-5"), Recipient: "0xA"})
	assert.ErrorContains(t, err, "amount must be positive")

	req := submitReq("10")
	req.AgentID = ""
	_, _, err = f.manager.Submit(ctx, req)
	assert.ErrorContains(t, err, "agent id is required")

	req = submitReq("10")
	req.Recipient = ""
	_, _, err = f.manager.Submit(ctx, req)
	assert.ErrorContains(t, err, "recipient is required")
}

func TestSubmit_BlockedIntentNeverExecutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putGuard(t, policy.Guard{
		ID: "g-cap", Name: "Cap", Type: policy.TypeSingleTx, Enabled: true,
		Config: policy.SingleTxConfig{Limit: decPtr("100")},
	})

	intent, checks, err := f.manager.Submit(ctx, submitReq("250"))
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, contracts.IntentBlocked, intent.Status)
	assert.Equal(t, "Exceeds single transaction limit of $100", intent.BlockReason)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].Passed)

	// No transaction may exist for a blocked intent.
	txs, err := f.txs.ListByAgent(ctx, "a-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)

	entries, err := f.ledger.Query(ctx, ledger.Filter{IntentID: intent.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryIntentBlocked, entries[0].Type)
	assert.Equal(t, ledger.EntryIntentCreated, entries[1].Type)
}

func TestSubmit_AutoApprovedIntentExecutesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	autoApproveAll(t, f)

	intent, checks, err := f.manager.Submit(ctx, submitReq("50"))
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentSucceeded, intent.Status)
	assert.Empty(t, intent.ApprovedBy, "auto-approved intents never touch awaiting_approval")
	require.Len(t, checks, 1)
	assert.True(t, checks[0].Passed)

	txs, err := f.txs.ListByAgent(ctx, "a-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, contracts.TxSucceeded, txs[0].Status)
	assert.NotEmpty(t, txs[0].SettlementHash)
	assert.Equal(t, "fast", txs[0].Metadata["route"])

	entries, err := f.ledger.Query(ctx, ledger.Filter{IntentID: intent.ID})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EntrySettled, entries[0].Type)
	assert.Equal(t, ledger.EntryExecutionBegan, entries[1].Type)

	a, err := f.agents.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.TxCount)
	assert.True(t, a.TotalSpend.Equal(dec("50")))
	assert.Equal(t, 51.0, a.Reputation)
}

func TestSubmit_NoAutoApproveGuardWaitsForHuman(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, _, err := f.manager.Submit(ctx, submitReq("50"))
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentAwaitingApproval, intent.Status)

	txs, err := f.txs.ListByAgent(ctx, "a-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "nothing executes before approval")
}

func TestSubmit_AboveThresholdWaitsForHuman(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putGuard(t, policy.Guard{
		ID: "g-auto", Type: policy.TypeAutoApprove, Enabled: true,
		Config: policy.AutoApproveConfig{Threshold: decPtr("100")},
	})

	intent, _, err := f.manager.Submit(ctx, submitReq("100.01"))
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentAwaitingApproval, intent.Status)
}

func TestApprove_RunsExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _, err := f.manager.Submit(ctx, submitReq("75"))
	require.NoError(t, err)
	require.Equal(t, contracts.IntentAwaitingApproval, pending.Status)

	final, err := f.manager.Approve(ctx, pending.ID, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentSucceeded, final.Status)

	stored, err := f.intents.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", stored.ApprovedBy)
	assert.NotNil(t, stored.ResolvedAt)

	entries, err := f.ledger.Query(ctx, ledger.Filter{IntentID: pending.ID})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, ledger.EntryIntentApproved, entries[2].Type)
}

func TestReject_BlocksIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _, err := f.manager.Submit(ctx, submitReq("75"))
	require.NoError(t, err)

	blocked, err := f.manager.Reject(ctx, pending.ID, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentBlocked, blocked.Status)
	assert.Equal(t, "Rejected by ops@example.com", blocked.BlockReason)

	txs, err := f.txs.ListByAgent(ctx, "a-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)

	entries, err := f.ledger.Query(ctx, ledger.Filter{IntentID: pending.ID})
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryIntentRejected, entries[0].Type)
}

func TestApprove_SecondResolverGetsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _, err := f.manager.Submit(ctx, submitReq("75"))
	require.NoError(t, err)

	_, err = f.manager.Approve(ctx, pending.ID, "first@example.com")
	require.NoError(t, err)

	_, err = f.manager.Approve(ctx, pending.ID, "second@example.com")
	assert.True(t, fault.IsKind(err, fault.KindConflict))

	_, err = f.manager.Reject(ctx, pending.ID, "second@example.com")
	assert.True(t, fault.IsKind(err, fault.KindConflict))
}

func TestSubmit_SettlementFailureLandsOnFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	autoApproveAll(t, f)
	f.settler.Fail = "insufficient liquidity"

	intent, _, err := f.manager.Submit(ctx, submitReq("50"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindSettlementFailure))
	require.NotNil(t, intent)
	assert.Equal(t, contracts.IntentFailed, intent.Status)

	txs, err := f.txs.ListByAgent(ctx, "a-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, contracts.TxFailed, txs[0].Status)
	assert.Contains(t, txs[0].FailureReason, "insufficient liquidity")
	assert.Empty(t, txs[0].SettlementHash)

	entries, err := f.ledger.Query(ctx, ledger.Filter{IntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, ledger.EntrySettlementFail, entries[0].Type)

	a, err := f.agents.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, a.Reputation)
	assert.True(t, a.TotalSpend.IsZero(), "failed settlements never count as spend")
}

func TestSubmit_BudgetCountsOnlySucceededSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	autoApproveAll(t, f)
	f.putGuard(t, policy.Guard{
		ID: "g-budget", Name: "Daily budget", Type: policy.TypeBudget, Enabled: true,
		Config: policy.BudgetConfig{Limit: decPtr("100"), Period: policy.PeriodDay},
	})

	first, _, err := f.manager.Submit(ctx, submitReq("80"))
	require.NoError(t, err)
	require.Equal(t, contracts.IntentSucceeded, first.Status)

	second, _, err := f.manager.Submit(ctx, submitReq("25"))
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentBlocked, second.Status)
	assert.Equal(t, "Exceeds day limit of $100", second.BlockReason)

	third, _, err := f.manager.Submit(ctx, submitReq("20"))
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentSucceeded, third.Status, "blocked intents never consume budget")
}

// failingTxStore records transactions but cannot answer history queries.
type failingTxStore struct {
	store.TransactionStore
}

func (failingTxStore) Snapshot(ctx context.Context, agentID string, now time.Time) (*store.Snapshot, error) {
	return nil, errors.New("history db unreachable")
}

func TestSubmit_HistoryUnavailableKeepsIntentSimulating(t *testing.T) {
	engine, err := guard.NewEngine(nil)
	require.NoError(t, err)

	intents := store.NewMemoryIntentStore()
	m := lifecycle.NewManager(lifecycle.Deps{
		Guards:  policy.NewMemoryStore(),
		Engine:  engine,
		Intents: intents,
		Txs:     failingTxStore{},
		Ledger:  ledger.NewMemoryLedger(),
		Agents:  agent.NewMemoryRegistry(),
		Settler: &lifecycle.SimulatedSettler{},
	})

	intent, _, err := m.Submit(context.Background(), submitReq("10"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindHistoryUnavailable))
	assert.Nil(t, intent)

	// The created intent stays parked in simulating.
	all, err := intents.ListByAgent(context.Background(), "a-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, contracts.IntentSimulating, all[0].Status)
}

func TestEvaluate_IsDryRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putGuard(t, policy.Guard{
		ID: "g-cap", Name: "Cap", Type: policy.TypeSingleTx, Enabled: true,
		Config: policy.SingleTxConfig{Limit: decPtr("10")},
	})

	checks, err := f.manager.Evaluate(ctx, contracts.PaymentIntent{
		WorkspaceID: "ws-1", AgentID: "a-1", Amount: dec("50"), Currency: "USD", Recipient: "0xA",
	})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].Passed)

	txs, err := f.txs.ListByAgent(ctx, "a-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, 0, f.ledger.Length())
}
