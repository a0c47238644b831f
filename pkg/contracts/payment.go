// Package contracts defines the shared payment types exchanged between the
// guard engine, lifecycle manager, and stores. Types here are plain data;
// behavior lives in the packages that consume them.
package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentSimulating       IntentStatus = "simulating"
	IntentAwaitingApproval IntentStatus = "awaiting_approval"
	IntentExecuting        IntentStatus = "executing"
	IntentSucceeded        IntentStatus = "succeeded"
	IntentFailed           IntentStatus = "failed"
	IntentBlocked          IntentStatus = "blocked"
)

// Terminal reports whether the status admits no further transitions.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentSucceeded, IntentFailed, IntentBlocked:
		return true
	}
	return false
}

// PaymentIntent is a proposed transfer. Amount, currency, recipient, agent,
// and route are immutable after creation; only status and approval metadata
// change as the intent moves through its lifecycle.
type PaymentIntent struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	AgentID     string          `json:"agent_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Recipient   string          `json:"recipient"`
	SourceChain string          `json:"source_chain"`
	DestChain   string          `json:"dest_chain"`
	Status      IntentStatus    `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// BlockReason holds the first failing guard's reason when Status is blocked.
	BlockReason string `json:"block_reason,omitempty"`

	// ApprovedBy records the operator who resolved an awaiting_approval intent.
	ApprovedBy string     `json:"approved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// TransactionStatus tracks a transaction once execution begins.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxSucceeded TransactionStatus = "succeeded"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is the execution record of an intent. Exactly one transaction
// exists per executed intent; blocked intents never materialize one.
type Transaction struct {
	ID             string            `json:"id"`
	IntentID       string            `json:"intent_id"`
	AgentID        string            `json:"agent_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Recipient      string            `json:"recipient"`
	Chain          string            `json:"chain"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	SettlementHash string            `json:"settlement_hash,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// CheckResult is the per-guard verdict produced by an evaluation. It is
// ephemeral: embedded in ledger entries for audit but never stored on its own.
type CheckResult struct {
	GuardID   string `json:"guard_id"`
	GuardName string `json:"guard_name"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason,omitempty"`
}

// AllPassed reports whether every verdict in the slice passed.
func AllPassed(results []CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FirstFailure returns the first failing verdict, if any.
func FirstFailure(results []CheckResult) (CheckResult, bool) {
	for _, r := range results {
		if !r.Passed {
			return r, true
		}
	}
	return CheckResult{}, false
}
