package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tessara-labs/payguard/pkg/agent"
	"github.com/tessara-labs/payguard/pkg/approval"
	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
	"github.com/tessara-labs/payguard/pkg/guard"
	"github.com/tessara-labs/payguard/pkg/ledger"
	"github.com/tessara-labs/payguard/pkg/policy"
	"github.com/tessara-labs/payguard/pkg/route"
	"github.com/tessara-labs/payguard/pkg/store"
)

// Manager owns the intent state machine:
//
//	simulating → awaiting_approval → executing → succeeded | failed
//	simulating → blocked                (any blocking guard fails)
//	awaiting_approval → blocked         (explicit rejection)
//
// Transitions are serialized per intent by the locker plus the store's
// compare-and-swap; a concurrent caller that loses the race gets a conflict
// fault and must re-fetch state.
type Manager struct {
	guards  policy.Store
	engine  *guard.Engine
	intents store.IntentStore
	txs     store.TransactionStore
	ledger  ledger.Recorder
	agents  agent.Registry
	settler Settler
	routes  *route.Selector
	locker  IntentLocker
	log     *slog.Logger
	clock   func() time.Time
}

// Deps collects the collaborators a Manager needs.
type Deps struct {
	Guards  policy.Store
	Engine  *guard.Engine
	Intents store.IntentStore
	Txs     store.TransactionStore
	Ledger  ledger.Recorder
	Agents  agent.Registry
	Settler Settler
	Routes  *route.Selector
	Locker  IntentLocker
	Log     *slog.Logger
}

// NewManager wires a Manager. Nil Locker falls back to a process-local
// locker; nil Routes falls back to the default chain set.
func NewManager(d Deps) *Manager {
	if d.Locker == nil {
		d.Locker = NewMemoryLocker()
	}
	if d.Routes == nil {
		d.Routes = route.DefaultSelector()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Manager{
		guards:  d.Guards,
		engine:  d.Engine,
		intents: d.Intents,
		txs:     d.Txs,
		ledger:  d.Ledger,
		agents:  d.Agents,
		settler: d.Settler,
		routes:  d.Routes,
		locker:  d.Locker,
		log:     d.Log,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// SubmitRequest describes a candidate payment.
type SubmitRequest struct {
	WorkspaceID string
	AgentID     string
	Amount      decimal.Decimal
	Currency    string
	Recipient   string
	SourceChain string
	DestChain   string
}

func (r SubmitRequest) validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", r.Amount)
	}
	if r.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if r.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	return nil
}

// Submit creates an intent, evaluates every enabled guard against it, and
// advances it as far as policy allows: blocked, awaiting_approval, or all the
// way through execution when no approval is needed.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*contracts.PaymentIntent, []contracts.CheckResult, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}

	now := m.clock()
	intent := contracts.PaymentIntent{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Recipient:   req.Recipient,
		SourceChain: req.SourceChain,
		DestChain:   req.DestChain,
		Status:      contracts.IntentSimulating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.intents.Create(ctx, intent); err != nil {
		return nil, nil, err
	}
	m.appendLedger(ctx, ledger.Entry{
		AgentID:     intent.AgentID,
		IntentID:    intent.ID,
		Type:        ledger.EntryIntentCreated,
		Description: fmt.Sprintf("Payment intent created: %s %s to %s", intent.Amount, intent.Currency, intent.Recipient),
		Amount:      intent.Amount.String(),
		Currency:    intent.Currency,
	})

	enabled, err := m.guards.ListEnabled(ctx, intent.WorkspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("list guards: %w", err)
	}
	results, err := m.evaluate(ctx, intent, enabled)
	if err != nil {
		// History unreadable: the evaluation fails whole, the intent stays
		// in simulating, and nothing is ever treated as zero spend.
		return nil, nil, err
	}

	if failure, failed := firstBlockingFailure(enabled, results); failed {
		blocked, err := m.intents.TransitionStatus(ctx, intent.ID, contracts.IntentSimulating, contracts.IntentBlocked,
			func(in *contracts.PaymentIntent) { in.BlockReason = failure.Reason })
		if err != nil {
			return nil, results, err
		}
		m.appendLedger(ctx, ledger.Entry{
			AgentID:     intent.AgentID,
			IntentID:    intent.ID,
			Type:        ledger.EntryIntentBlocked,
			Description: fmt.Sprintf("Blocked by guard %q: %s", failure.GuardName, failure.Reason),
			Amount:      intent.Amount.String(),
			Currency:    intent.Currency,
			Checks:      results,
		})
		m.log.Info("intent blocked",
			"intent_id", intent.ID, "guard_id", failure.GuardID, "reason", failure.Reason)
		return blocked, results, nil
	}

	if approval.RequiresApproval(intent, enabled) {
		waiting, err := m.intents.TransitionStatus(ctx, intent.ID, contracts.IntentSimulating, contracts.IntentAwaitingApproval, nil)
		if err != nil {
			return nil, results, err
		}
		m.log.Info("intent awaiting approval", "intent_id", intent.ID, "amount", intent.Amount.String())
		return waiting, results, nil
	}

	executing, err := m.intents.TransitionStatus(ctx, intent.ID, contracts.IntentSimulating, contracts.IntentExecuting, nil)
	if err != nil {
		return nil, results, err
	}
	final, err := m.runExecution(ctx, *executing)
	return final, results, err
}

// Approve resolves an awaiting_approval intent and runs execution.
func (m *Manager) Approve(ctx context.Context, intentID, approver string) (*contracts.PaymentIntent, error) {
	release, err := m.locker.TryLock(ctx, intentID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := m.clock()
	executing, err := m.intents.TransitionStatus(ctx, intentID, contracts.IntentAwaitingApproval, contracts.IntentExecuting,
		func(in *contracts.PaymentIntent) {
			in.ApprovedBy = approver
			in.ResolvedAt = &now
		})
	if err != nil {
		return nil, err
	}
	m.appendLedger(ctx, ledger.Entry{
		AgentID:     executing.AgentID,
		IntentID:    executing.ID,
		Type:        ledger.EntryIntentApproved,
		Description: fmt.Sprintf("Approved by %s", approver),
		Amount:      executing.Amount.String(),
		Currency:    executing.Currency,
	})
	return m.runExecution(ctx, *executing)
}

// Reject blocks an awaiting_approval intent.
func (m *Manager) Reject(ctx context.Context, intentID, approver string) (*contracts.PaymentIntent, error) {
	release, err := m.locker.TryLock(ctx, intentID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := m.clock()
	blocked, err := m.intents.TransitionStatus(ctx, intentID, contracts.IntentAwaitingApproval, contracts.IntentBlocked,
		func(in *contracts.PaymentIntent) {
			in.BlockReason = fmt.Sprintf("Rejected by %s", approver)
			in.ApprovedBy = approver
			in.ResolvedAt = &now
		})
	if err != nil {
		return nil, err
	}
	m.appendLedger(ctx, ledger.Entry{
		AgentID:     blocked.AgentID,
		IntentID:    blocked.ID,
		Type:        ledger.EntryIntentRejected,
		Description: fmt.Sprintf("Rejected by %s", approver),
		Amount:      blocked.Amount.String(),
		Currency:    blocked.Currency,
	})
	return blocked, nil
}

// Get returns the current intent state.
func (m *Manager) Get(ctx context.Context, intentID string) (*contracts.PaymentIntent, error) {
	return m.intents.Get(ctx, intentID)
}

// Evaluate runs a dry evaluation of an intent against the workspace's
// enabled guards, without touching intent state.
func (m *Manager) Evaluate(ctx context.Context, intent contracts.PaymentIntent) ([]contracts.CheckResult, error) {
	enabled, err := m.guards.ListEnabled(ctx, intent.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list guards: %w", err)
	}
	return m.evaluate(ctx, intent, enabled)
}

func (m *Manager) evaluate(ctx context.Context, intent contracts.PaymentIntent, enabled []policy.Guard) ([]contracts.CheckResult, error) {
	snap, err := store.TakeSnapshot(ctx, m.txs, intent.AgentID, m.clock())
	if err != nil {
		return nil, err
	}
	return m.engine.Evaluate(ctx, intent, enabled, snap)
}

// runExecution materializes the transaction, invokes settlement, and lands
// the intent on succeeded or failed. Settlement is bounded by ctx; there is
// no automatic retry.
func (m *Manager) runExecution(ctx context.Context, intent contracts.PaymentIntent) (*contracts.PaymentIntent, error) {
	r := m.routes.Select(intent.SourceChain, intent.DestChain, intent.Amount)
	tx := contracts.Transaction{
		ID:        uuid.New().String(),
		IntentID:  intent.ID,
		AgentID:   intent.AgentID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Recipient: intent.Recipient,
		Chain:     intent.DestChain,
		Status:    contracts.TxPending,
		CreatedAt: m.clock(),
		Metadata: map[string]any{
			"route":     string(r.Kind),
			"route_fee": r.Fee.String(),
		},
	}
	if err := m.txs.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	m.appendLedger(ctx, ledger.Entry{
		AgentID:       intent.AgentID,
		IntentID:      intent.ID,
		TransactionID: tx.ID,
		Type:          ledger.EntryExecutionBegan,
		Description:   fmt.Sprintf("Execution began via %s route (fee %s)", r.Kind, r.Fee),
		Amount:        intent.Amount.String(),
		Currency:      intent.Currency,
	})

	hash, settleErr := m.settler.Settle(ctx, tx, r)
	if settleErr != nil {
		tx.Status = contracts.TxFailed
		tx.FailureReason = settleErr.Error()
		if err := m.txs.Update(ctx, tx); err != nil {
			m.log.Error("record settlement failure", "tx_id", tx.ID, "error", err)
		}
		failed, err := m.intents.TransitionStatus(ctx, intent.ID, contracts.IntentExecuting, contracts.IntentFailed, nil)
		if err != nil {
			return nil, err
		}
		m.recordOutcome(ctx, intent.AgentID, intent.Amount, false)
		m.appendLedger(ctx, ledger.Entry{
			AgentID:       intent.AgentID,
			IntentID:      intent.ID,
			TransactionID: tx.ID,
			Type:          ledger.EntrySettlementFail,
			Description:   fmt.Sprintf("Settlement failed: %v", settleErr),
			Amount:        intent.Amount.String(),
			Currency:      intent.Currency,
		})
		return failed, fault.Wrap(fault.KindSettlementFailure, settleErr, "intent %q", intent.ID)
	}

	tx.Status = contracts.TxSucceeded
	tx.SettlementHash = hash
	if err := m.txs.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("record settlement: %w", err)
	}
	succeeded, err := m.intents.TransitionStatus(ctx, intent.ID, contracts.IntentExecuting, contracts.IntentSucceeded, nil)
	if err != nil {
		return nil, err
	}
	m.recordOutcome(ctx, intent.AgentID, intent.Amount, true)
	m.appendLedger(ctx, ledger.Entry{
		AgentID:       intent.AgentID,
		IntentID:      intent.ID,
		TransactionID: tx.ID,
		Type:          ledger.EntrySettled,
		Description:   fmt.Sprintf("Settled %s %s to %s (%s)", intent.Amount, intent.Currency, intent.Recipient, hash),
		Amount:        intent.Amount.String(),
		Currency:      intent.Currency,
	})
	return succeeded, nil
}

// firstBlockingFailure pairs verdicts with their guards and returns the first
// failing verdict belonging to a blocking guard type.
func firstBlockingFailure(guards []policy.Guard, results []contracts.CheckResult) (contracts.CheckResult, bool) {
	byID := make(map[string]policy.GuardType, len(guards))
	for _, g := range guards {
		byID[g.ID] = g.Type
	}
	for _, r := range results {
		if !r.Passed && byID[r.GuardID].Blocking() {
			return r, true
		}
	}
	return contracts.CheckResult{}, false
}

func (m *Manager) appendLedger(ctx context.Context, e ledger.Entry) {
	if _, err := m.ledger.Append(ctx, e); err != nil {
		m.log.Error("ledger append failed", "intent_id", e.IntentID, "type", string(e.Type), "error", err)
	}
}

func (m *Manager) recordOutcome(ctx context.Context, agentID string, amount decimal.Decimal, succeeded bool) {
	if err := m.agents.RecordOutcome(ctx, agentID, amount, succeeded); err != nil {
		m.log.Warn("agent outcome not recorded", "agent_id", agentID, "error", err)
	}
}
