package agent

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
)

// SQLiteRegistry implements Registry on SQLite. Outcome updates are
// serialized by an in-process mutex and guarded on tx_count, so two intents
// finishing at once for the same agent never lose a counter update.
type SQLiteRegistry struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRegistry wraps db and runs the schema migration.
func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		purpose TEXT,
		risk_tier TEXT NOT NULL DEFAULT 'standard',
		trust_level INTEGER NOT NULL DEFAULT 0,
		total_spend TEXT NOT NULL DEFAULT '0',
		tx_count INTEGER NOT NULL DEFAULT 0,
		reputation REAL NOT NULL DEFAULT 50,
		updated_at DATETIME NOT NULL
	)`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

func (r *SQLiteRegistry) Get(ctx context.Context, agentID string) (*contracts.Agent, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, purpose, risk_tier, trust_level, total_spend, tx_count, reputation, updated_at FROM agents WHERE id = ?",
		agentID)

	var (
		a       contracts.Agent
		purpose sql.NullString
		tier    string
		spend   string
		updated string
	)
	err := row.Scan(&a.ID, &a.Name, &purpose, &tier, &a.TrustLevel, &spend, &a.TxCount, &a.Reputation, &updated)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("agent", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Purpose = purpose.String
	a.RiskTier = contracts.RiskTier(tier)
	a.TotalSpend, err = decimal.NewFromString(spend)
	if err != nil {
		return nil, fmt.Errorf("corrupt total_spend %q: %w", spend, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		a.UpdatedAt = t
	}
	return &a, nil
}

func (r *SQLiteRegistry) Put(ctx context.Context, a contracts.Agent) error {
	if a.Reputation == 0 && a.TxCount == 0 {
		a.Reputation = reputationStart
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO agents (id, name, purpose, risk_tier, trust_level, total_spend, tx_count, reputation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			purpose = excluded.purpose,
			risk_tier = excluded.risk_tier,
			trust_level = excluded.trust_level,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Purpose, string(a.RiskTier), a.TrustLevel,
		a.TotalSpend.String(), a.TxCount, a.Reputation, a.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("persist agent: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) RecordOutcome(ctx context.Context, agentID string, amount decimal.Decimal, succeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}
	prevCount := a.TxCount
	applyOutcome(a, amount, succeeded, time.Now().UTC())

	// tx_count acts as a version: the update only lands on the row state the
	// read saw, so an out-of-process writer cannot be silently overwritten.
	res, err := r.db.ExecContext(ctx,
		"UPDATE agents SET total_spend = ?, tx_count = ?, reputation = ?, updated_at = ? WHERE id = ? AND tx_count = ?",
		a.TotalSpend.String(), a.TxCount, a.Reputation, a.UpdatedAt.UTC().Format(time.RFC3339Nano), agentID, prevCount)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindConflict, "agent %q counters advanced concurrently", agentID)
	}
	return nil
}
