// Package payguard exposes the engine's functional surface: guard listing,
// intent evaluation, the approval decision, lifecycle actions, and ledger
// access. Transports (HTTP, CLI) sit on top of this package.
package payguard

import (
	"context"
	"log/slog"

	"github.com/tessara-labs/payguard/pkg/agent"
	"github.com/tessara-labs/payguard/pkg/approval"
	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/ledger"
	"github.com/tessara-labs/payguard/pkg/lifecycle"
	"github.com/tessara-labs/payguard/pkg/policy"
)

// Service is the assembled guard engine.
type Service struct {
	guards  policy.Store
	manager *lifecycle.Manager
	ledger  ledger.Recorder
	agents  agent.Registry
	log     *slog.Logger
}

// NewService wires the facade.
func NewService(guards policy.Store, manager *lifecycle.Manager, rec ledger.Recorder, agents agent.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{guards: guards, manager: manager, ledger: rec, agents: agents, log: log}
}

// ListGuards returns a workspace's guards in configured order.
func (s *Service) ListGuards(ctx context.Context, workspaceID string) ([]policy.Guard, error) {
	return s.guards.ListGuards(ctx, workspaceID)
}

// PutGuard inserts or replaces a guard. The caller is responsible for schema
// validation of raw config input; typed configs are valid by construction.
func (s *Service) PutGuard(ctx context.Context, g policy.Guard) error {
	return s.guards.PutGuard(ctx, g)
}

// DeleteGuard removes a guard.
func (s *Service) DeleteGuard(ctx context.Context, workspaceID, guardID string) error {
	return s.guards.DeleteGuard(ctx, workspaceID, guardID)
}

// EvaluateIntent dry-runs every enabled guard against an intent without
// touching lifecycle state.
func (s *Service) EvaluateIntent(ctx context.Context, intent contracts.PaymentIntent) ([]contracts.CheckResult, error) {
	return s.manager.Evaluate(ctx, intent)
}

// DecideApproval reports whether the intent would need human approval under
// the workspace's current auto-approve policy.
func (s *Service) DecideApproval(ctx context.Context, intent contracts.PaymentIntent) (bool, error) {
	enabled, err := s.guards.ListEnabled(ctx, intent.WorkspaceID)
	if err != nil {
		return true, err
	}
	return approval.RequiresApproval(intent, enabled), nil
}

// SubmitIntent runs the full pipeline: create, evaluate, block or queue for
// approval or execute.
func (s *Service) SubmitIntent(ctx context.Context, req lifecycle.SubmitRequest) (*contracts.PaymentIntent, []contracts.CheckResult, error) {
	return s.manager.Submit(ctx, req)
}

// ApproveIntent resolves an awaiting intent and executes it.
func (s *Service) ApproveIntent(ctx context.Context, intentID, approver string) (*contracts.PaymentIntent, error) {
	return s.manager.Approve(ctx, intentID, approver)
}

// RejectIntent blocks an awaiting intent.
func (s *Service) RejectIntent(ctx context.Context, intentID, approver string) (*contracts.PaymentIntent, error) {
	return s.manager.Reject(ctx, intentID, approver)
}

// GetIntent returns current intent state.
func (s *Service) GetIntent(ctx context.Context, intentID string) (*contracts.PaymentIntent, error) {
	return s.manager.Get(ctx, intentID)
}

// RecordLedgerEntry appends an audit entry, e.g. a manual compensation.
func (s *Service) RecordLedgerEntry(ctx context.Context, e ledger.Entry) (*ledger.Entry, error) {
	if e.Type == "" {
		e.Type = ledger.EntryCompensation
	}
	return s.ledger.Append(ctx, e)
}

// QueryLedger returns audit entries matching the filter, newest first.
func (s *Service) QueryLedger(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	return s.ledger.Query(ctx, f)
}

// RegisterAgent creates or updates an agent identity.
func (s *Service) RegisterAgent(ctx context.Context, a contracts.Agent) error {
	return s.agents.Put(ctx, a)
}

// GetAgent returns an agent with its current counters and reputation.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*contracts.Agent, error) {
	return s.agents.Get(ctx, agentID)
}
