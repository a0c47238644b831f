// Package policy holds the administrator-defined guard rules that constrain
// agent payments, and the stores that persist them. Guards are mutable
// configuration with a lifecycle independent of any single intent: the engine
// reads them at evaluation time and never mutates them.
package policy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GuardType discriminates the guard config union.
type GuardType string

const (
	TypeBudget      GuardType = "budget"
	TypeSingleTx    GuardType = "single_tx"
	TypeRateLimit   GuardType = "rate_limit"
	TypeAutoApprove GuardType = "auto_approve"
	TypeAllowlist   GuardType = "allowlist"
	TypeBlocklist   GuardType = "blocklist"
	TypeCustom      GuardType = "custom"
)

// Blocking reports whether a failing guard of this type terminates the
// intent. Every type blocks except auto_approve, which only feeds the
// approval decision.
func (t GuardType) Blocking() bool {
	return t != TypeAutoApprove
}

// Period is a budget or rate window.
type Period string

const (
	PeriodDay  Period = "day"
	PeriodHour Period = "hour"
)

// Duration returns the rolling window length for the period.
func (p Period) Duration() time.Duration {
	if p == PeriodHour {
		return time.Hour
	}
	return 24 * time.Hour
}

// Config is the sealed guard-config union. Exactly one concrete type exists
// per GuardType, so evaluation can switch exhaustively.
type Config interface {
	GuardType() GuardType
}

// BudgetConfig caps cumulative succeeded spend within a period window.
// A nil Limit makes the guard inert.
type BudgetConfig struct {
	Limit  *decimal.Decimal `json:"limit,omitempty"`
	Period Period           `json:"period,omitempty"`
}

func (BudgetConfig) GuardType() GuardType { return TypeBudget }

// WindowPeriod returns the configured period, defaulting to day.
func (c BudgetConfig) WindowPeriod() Period {
	if c.Period == "" {
		return PeriodDay
	}
	return c.Period
}

// SingleTxConfig caps the amount of any one transaction.
type SingleTxConfig struct {
	Limit *decimal.Decimal `json:"limit,omitempty"`
}

func (SingleTxConfig) GuardType() GuardType { return TypeSingleTx }

// RateLimitConfig caps the count of succeeded transactions within a rolling
// window ending now.
type RateLimitConfig struct {
	Limit  *int   `json:"limit,omitempty"`
	Period Period `json:"period,omitempty"`
}

func (RateLimitConfig) GuardType() GuardType { return TypeRateLimit }

// WindowPeriod returns the configured period, defaulting to hour.
func (c RateLimitConfig) WindowPeriod() Period {
	if c.Period == "" {
		return PeriodHour
	}
	return c.Period
}

// AutoApproveConfig sets the amount at or below which no human approval is
// needed. A nil Threshold means approval is always required.
type AutoApproveConfig struct {
	Threshold *decimal.Decimal `json:"threshold,omitempty"`
}

func (AutoApproveConfig) GuardType() GuardType { return TypeAutoApprove }

// AllowlistConfig permits payments only to the listed recipients.
type AllowlistConfig struct {
	Addresses []string `json:"addresses,omitempty"`
}

func (AllowlistConfig) GuardType() GuardType { return TypeAllowlist }

// Contains reports whether addr is on the list.
func (c AllowlistConfig) Contains(addr string) bool {
	for _, a := range c.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// BlocklistConfig refuses payments to the listed recipients.
type BlocklistConfig struct {
	Addresses []string `json:"addresses,omitempty"`
}

func (BlocklistConfig) GuardType() GuardType { return TypeBlocklist }

// Contains reports whether addr is on the list.
func (c BlocklistConfig) Contains(addr string) bool {
	for _, a := range c.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// CustomConfig is a CEL expression over the intent that must evaluate true
// for the payment to pass. An empty expression makes the guard inert.
//
// The amount variable is the exact decimal string of the intent amount.
// Compare it directly for exact matches, or via double(amount) for numeric
// thresholds that tolerate float rounding.
type CustomConfig struct {
	Expression string `json:"expression,omitempty"`
}

func (CustomConfig) GuardType() GuardType { return TypeCustom }

// Guard is one administrator-defined policy rule.
type Guard struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Type        GuardType `json:"type"`
	Enabled     bool      `json:"enabled"`
	// Position orders guards for presentation. It does not affect rule
	// independence; every enabled guard is evaluated regardless of order.
	Position  int       `json:"position"`
	Config    Config    `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// guardJSON is the wire/persistence shape with the config as raw JSON.
type guardJSON struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Name        string          `json:"name"`
	Type        GuardType       `json:"type"`
	Enabled     bool            `json:"enabled"`
	Position    int             `json:"position"`
	Config      json.RawMessage `json:"config"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MarshalJSON encodes the guard with its typed config inline.
func (g Guard) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(g.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal %s config: %w", g.Type, err)
	}
	return json.Marshal(guardJSON{
		ID:          g.ID,
		WorkspaceID: g.WorkspaceID,
		Name:        g.Name,
		Type:        g.Type,
		Enabled:     g.Enabled,
		Position:    g.Position,
		Config:      raw,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	})
}

// UnmarshalJSON decodes the config into the concrete type selected by Type.
func (g *Guard) UnmarshalJSON(data []byte) error {
	var wire guardJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	cfg, err := DecodeConfig(wire.Type, wire.Config)
	if err != nil {
		return err
	}
	*g = Guard{
		ID:          wire.ID,
		WorkspaceID: wire.WorkspaceID,
		Name:        wire.Name,
		Type:        wire.Type,
		Enabled:     wire.Enabled,
		Position:    wire.Position,
		Config:      cfg,
		CreatedAt:   wire.CreatedAt,
		UpdatedAt:   wire.UpdatedAt,
	}
	return nil
}

// DecodeConfig parses a raw config object into the concrete variant for the
// guard type. A nil or empty raw object yields the type's zero config, which
// evaluates as inert.
func DecodeConfig(t GuardType, raw json.RawMessage) (Config, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	decode := func(v Config) (Config, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s config: %w", t, err)
		}
		return v, nil
	}
	switch t {
	case TypeBudget:
		c, err := decode(&BudgetConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*BudgetConfig), nil
	case TypeSingleTx:
		c, err := decode(&SingleTxConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*SingleTxConfig), nil
	case TypeRateLimit:
		c, err := decode(&RateLimitConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*RateLimitConfig), nil
	case TypeAutoApprove:
		c, err := decode(&AutoApproveConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*AutoApproveConfig), nil
	case TypeAllowlist:
		c, err := decode(&AllowlistConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*AllowlistConfig), nil
	case TypeBlocklist:
		c, err := decode(&BlocklistConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*BlocklistConfig), nil
	case TypeCustom:
		c, err := decode(&CustomConfig{})
		if err != nil {
			return nil, err
		}
		return *c.(*CustomConfig), nil
	}
	return nil, fmt.Errorf("unknown guard type %q", t)
}
