// Package guard evaluates policy rules against candidate payment intents.
// Evaluation is a pure read over a consistent history snapshot: rule failures
// are expressed as data, never as errors, and every enabled guard is
// evaluated regardless of earlier failures.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/policy"
	"github.com/tessara-labs/payguard/pkg/store"
)

// Engine evaluates enabled guards against payment intents.
type Engine struct {
	log *slog.Logger
	cel *celEvaluator
}

// NewEngine creates an engine. A nil logger falls back to slog.Default.
func NewEngine(log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	ce, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{log: log, cel: ce}, nil
}

// Evaluate produces one verdict per guard, in the guards' configured order.
// The caller passes only enabled guards; disabled guards must not appear in
// the slice. The snapshot supplies every history aggregate the rules need,
// so all rules see the same consistent view.
func (e *Engine) Evaluate(ctx context.Context, intent contracts.PaymentIntent, guards []policy.Guard, snap *store.Snapshot) ([]contracts.CheckResult, error) {
	results := make([]contracts.CheckResult, 0, len(guards))
	for _, g := range guards {
		result := contracts.CheckResult{GuardID: g.ID, GuardName: g.Name, Passed: true}

		switch cfg := g.Config.(type) {
		case policy.BudgetConfig:
			if cfg.Limit == nil {
				e.flagMissingConfig(g, "limit")
				break
			}
			spent := snap.DaySpend
			if cfg.WindowPeriod() == policy.PeriodHour {
				spent = snap.HourSpend
			}
			if spent.Add(intent.Amount).GreaterThan(*cfg.Limit) {
				result.Passed = false
				result.Reason = fmt.Sprintf("Exceeds %s limit of $%s", cfg.WindowPeriod(), cfg.Limit.String())
			}

		case policy.SingleTxConfig:
			if cfg.Limit == nil {
				e.flagMissingConfig(g, "limit")
				break
			}
			if intent.Amount.GreaterThan(*cfg.Limit) {
				result.Passed = false
				result.Reason = fmt.Sprintf("Exceeds single transaction limit of $%s", cfg.Limit.String())
			}

		case policy.RateLimitConfig:
			if cfg.Limit == nil {
				e.flagMissingConfig(g, "limit")
				break
			}
			count := snap.RollingHourCount
			if cfg.WindowPeriod() == policy.PeriodDay {
				count = snap.RollingDayCount
			}
			if count >= *cfg.Limit {
				result.Passed = false
				result.Reason = fmt.Sprintf("Exceeds rate limit of %d transactions per %s", *cfg.Limit, cfg.WindowPeriod())
			}

		case policy.AllowlistConfig:
			if len(cfg.Addresses) == 0 {
				e.flagMissingConfig(g, "addresses")
				break
			}
			if !cfg.Contains(intent.Recipient) {
				result.Passed = false
				result.Reason = "Recipient not on allowlist"
			}

		case policy.BlocklistConfig:
			if cfg.Contains(intent.Recipient) {
				result.Passed = false
				result.Reason = "Recipient is on blocklist"
			}

		case policy.AutoApproveConfig:
			// Never fails the check; it only feeds the approval decision.

		case policy.CustomConfig:
			if cfg.Expression == "" {
				e.flagMissingConfig(g, "expression")
				break
			}
			ok, err := e.cel.eval(cfg.Expression, intent)
			if err != nil {
				// Fail closed: a broken expression must not wave payments through.
				result.Passed = false
				result.Reason = fmt.Sprintf("Custom rule error: %v", err)
				e.log.Warn("custom guard expression failed",
					"guard_id", g.ID, "error", err)
			} else if !ok {
				result.Passed = false
				result.Reason = fmt.Sprintf("Custom rule %q not satisfied", g.Name)
			}

		default:
			return nil, fmt.Errorf("guard %q has unsupported config %T", g.ID, g.Config)
		}

		results = append(results, result)
	}
	return results, nil
}

// flagMissingConfig records an inert guard for operator attention. Absence of
// configuration passes the check but should not stay invisible forever.
func (e *Engine) flagMissingConfig(g policy.Guard, field string) {
	e.log.Warn("enabled guard has no configuration and is inert",
		"guard_id", g.ID,
		"guard_type", string(g.Type),
		"missing_field", field,
		"flagged_at", time.Now().UTC())
}
