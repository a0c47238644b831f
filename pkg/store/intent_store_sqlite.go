package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
)

// SQLiteIntentStore implements IntentStore on SQLite. The compare-and-swap in
// TransitionStatus is a guarded UPDATE; RowsAffected == 0 with an existing row
// means a concurrent caller won the transition.
type SQLiteIntentStore struct {
	db *sql.DB
}

// NewSQLiteIntentStore wraps db and runs the schema migration.
func NewSQLiteIntentStore(db *sql.DB) (*SQLiteIntentStore, error) {
	s := &SQLiteIntentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteIntentStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS intents (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		recipient TEXT NOT NULL,
		source_chain TEXT,
		dest_chain TEXT,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		block_reason TEXT,
		approved_by TEXT,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_intents_agent ON intents (agent_id, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const intentColumns = "id, workspace_id, agent_id, amount, currency, recipient, source_chain, dest_chain, status, created_at, updated_at, block_reason, approved_by, resolved_at"

func (s *SQLiteIntentStore) Create(ctx context.Context, in contracts.PaymentIntent) error {
	query := fmt.Sprintf("INSERT INTO intents (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", intentColumns)
	var resolved any
	if in.ResolvedAt != nil {
		resolved = in.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, query,
		in.ID, in.WorkspaceID, in.AgentID, in.Amount.String(), in.Currency, in.Recipient,
		in.SourceChain, in.DestChain, string(in.Status),
		in.CreatedAt.UTC().Format(time.RFC3339Nano), in.UpdatedAt.UTC().Format(time.RFC3339Nano),
		in.BlockReason, in.ApprovedBy, resolved)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *SQLiteIntentStore) Get(ctx context.Context, intentID string) (*contracts.PaymentIntent, error) {
	query := fmt.Sprintf("SELECT %s FROM intents WHERE id = ?", intentColumns)
	in, err := scanIntent(s.db.QueryRowContext(ctx, query, intentID))
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("intent", intentID)
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (s *SQLiteIntentStore) TransitionStatus(ctx context.Context, intentID string, from, to contracts.IntentStatus, mutate func(*contracts.PaymentIntent)) (*contracts.PaymentIntent, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"UPDATE intents SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), now.Format(time.RFC3339Nano), intentID, string(from))
	if err != nil {
		return nil, fmt.Errorf("transition intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a lost race from a missing intent.
		if _, err := s.Get(ctx, intentID); err != nil {
			return nil, err
		}
		return nil, fault.Conflict(intentID)
	}

	in, err := s.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(in)
		var resolved any
		if in.ResolvedAt != nil {
			resolved = in.ResolvedAt.UTC().Format(time.RFC3339Nano)
		}
		_, err = s.db.ExecContext(ctx,
			"UPDATE intents SET block_reason = ?, approved_by = ?, resolved_at = ? WHERE id = ?",
			in.BlockReason, in.ApprovedBy, resolved, intentID)
		if err != nil {
			return nil, fmt.Errorf("update intent metadata: %w", err)
		}
	}
	return in, nil
}

func (s *SQLiteIntentStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]contracts.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM intents WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?", intentColumns)
	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.PaymentIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func scanIntent(row rowScanner) (*contracts.PaymentIntent, error) {
	var (
		in          contracts.PaymentIntent
		amount      string
		status      string
		createdAt   string
		updatedAt   string
		source      sql.NullString
		dest        sql.NullString
		blockReason sql.NullString
		approvedBy  sql.NullString
		resolvedAt  sql.NullString
	)
	err := row.Scan(&in.ID, &in.WorkspaceID, &in.AgentID, &amount, &in.Currency, &in.Recipient,
		&source, &dest, &status, &createdAt, &updatedAt, &blockReason, &approvedBy, &resolvedAt)
	if err != nil {
		return nil, err
	}
	in.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	in.SourceChain = source.String
	in.DestChain = dest.String
	in.Status = contracts.IntentStatus(status)
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)
	in.BlockReason = blockReason.String
	in.ApprovedBy = approvedBy.String
	if resolvedAt.Valid && resolvedAt.String != "" {
		t := parseTime(resolvedAt.String)
		in.ResolvedAt = &t
	}
	return &in, nil
}
