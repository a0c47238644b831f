package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskTier buckets agents by the blast radius of their spending authority.
type RiskTier string

const (
	RiskTierLow      RiskTier = "low"
	RiskTierStandard RiskTier = "standard"
	RiskTierHigh     RiskTier = "high"
)

// Agent is the initiating identity a guard set protects against. Guards never
// evaluate the agent directly; its counters and reputation are updated after
// each terminal transaction outcome.
type Agent struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Purpose    string   `json:"purpose,omitempty"`
	RiskTier   RiskTier `json:"risk_tier"`
	TrustLevel int      `json:"trust_level"`

	TotalSpend decimal.Decimal `json:"total_spend"`
	TxCount    int64           `json:"tx_count"`
	// Reputation is a 0-100 spend-reputation score. Successful settlements
	// raise it, failures lower it.
	Reputation float64   `json:"reputation"`
	UpdatedAt  time.Time `json:"updated_at"`
}
