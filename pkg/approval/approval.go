// Package approval decides whether a payment intent needs human sign-off
// before execution. The decision reads only the auto_approve guard; it is
// independent of whether blocking guards passed, because a failing blocking
// guard terminates the intent upstream regardless.
package approval

import (
	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/policy"
)

// RequiresApproval reports whether the intent must wait for a human.
//
// Fail-safe default: with no enabled auto_approve guard, or one without a
// configured threshold, approval is always required. Otherwise approval is
// required exactly when the amount strictly exceeds the threshold; amounts at
// the threshold bypass manual approval.
func RequiresApproval(intent contracts.PaymentIntent, guards []policy.Guard) bool {
	for _, g := range guards {
		if !g.Enabled || g.Type != policy.TypeAutoApprove {
			continue
		}
		cfg, ok := g.Config.(policy.AutoApproveConfig)
		if !ok || cfg.Threshold == nil {
			return true
		}
		return intent.Amount.GreaterThan(*cfg.Threshold)
	}
	return true
}
