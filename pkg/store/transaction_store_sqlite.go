package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/fault"
)

// SQLiteTransactionStore implements TransactionStore on SQLite. Amounts are
// stored as decimal strings and summed in Go so no precision is lost to
// floating point.
type SQLiteTransactionStore struct {
	db *sql.DB
}

// NewSQLiteTransactionStore wraps db and runs the schema migration.
func NewSQLiteTransactionStore(db *sql.DB) (*SQLiteTransactionStore, error) {
	s := &SQLiteTransactionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTransactionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		recipient TEXT NOT NULL,
		chain TEXT,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		settlement_hash TEXT,
		failure_reason TEXT,
		metadata JSON
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_agent_status_time
		ON transactions (agent_id, status, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const txColumns = "id, intent_id, agent_id, amount, currency, recipient, chain, status, created_at, settlement_hash, failure_reason, metadata"

func (s *SQLiteTransactionStore) Append(ctx context.Context, tx contracts.Transaction) error {
	metaJSON, _ := json.Marshal(tx.Metadata)
	query := fmt.Sprintf("INSERT INTO transactions (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", txColumns)
	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.IntentID, tx.AgentID, tx.Amount.String(), tx.Currency, tx.Recipient, tx.Chain,
		string(tx.Status), tx.CreatedAt.UTC().Format(time.RFC3339Nano), tx.SettlementHash, tx.FailureReason, string(metaJSON))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *SQLiteTransactionStore) Get(ctx context.Context, txID string) (*contracts.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM transactions WHERE id = ?", txColumns)
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, txID))
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("transaction", txID)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *SQLiteTransactionStore) Update(ctx context.Context, tx contracts.Transaction) error {
	metaJSON, _ := json.Marshal(tx.Metadata)
	query := `UPDATE transactions
		SET status = ?, settlement_hash = ?, failure_reason = ?, metadata = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, string(tx.Status), tx.SettlementHash, tx.FailureReason, string(metaJSON), tx.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("transaction", tx.ID)
	}
	return nil
}

func (s *SQLiteTransactionStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]contracts.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM transactions WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?", txColumns)
	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (s *SQLiteTransactionStore) SucceededSumSince(ctx context.Context, agentID string, since time.Time) (decimal.Decimal, error) {
	query := `SELECT amount FROM transactions
		WHERE agent_id = ? AND status = ? AND created_at >= ?`
	rows, err := s.db.QueryContext(ctx, query, agentID, string(contracts.TxSucceeded), since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = rows.Close() }()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

func (s *SQLiteTransactionStore) SucceededCountSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM transactions
		WHERE agent_id = ? AND status = ? AND created_at >= ?`
	var n int
	err := s.db.QueryRowContext(ctx, query, agentID, string(contracts.TxSucceeded), since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteTransactionStore) Snapshot(ctx context.Context, agentID string, now time.Time) (*Snapshot, error) {
	dayStart, hourStart, hourAgo, dayAgo := snapshotWindows(now)
	earliest := dayAgo
	if dayStart.Before(earliest) {
		earliest = dayStart
	}

	// One statement covering the widest window; the four aggregates are folded
	// from its rows so they all reflect the same database state.
	query := `SELECT amount, created_at FROM transactions
		WHERE agent_id = ? AND status = ? AND created_at >= ?`
	rows, err := s.db.QueryContext(ctx, query, agentID, string(contracts.TxSucceeded), earliest.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	snap := &Snapshot{DaySpend: decimal.Zero, HourSpend: decimal.Zero, TakenAt: now}
	for rows.Next() {
		var raw, createdRaw string
		if err := rows.Scan(&raw, &createdRaw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		created := parseTime(createdRaw)
		if !created.Before(dayStart) {
			snap.DaySpend = snap.DaySpend.Add(amount)
		}
		if !created.Before(hourStart) {
			snap.HourSpend = snap.HourSpend.Add(amount)
		}
		if !created.Before(hourAgo) {
			snap.RollingHourCount++
		}
		if !created.Before(dayAgo) {
			snap.RollingDayCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func scanTransaction(row rowScanner) (*contracts.Transaction, error) {
	var (
		tx        contracts.Transaction
		amount    string
		status    string
		createdAt string
		hash      sql.NullString
		failure   sql.NullString
		metaJSON  sql.NullString
		chain     sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.IntentID, &tx.AgentID, &amount, &tx.Currency, &tx.Recipient, &chain,
		&status, &createdAt, &hash, &failure, &metaJSON)
	if err != nil {
		return nil, err
	}
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	tx.Chain = chain.String
	tx.Status = contracts.TransactionStatus(status)
	tx.CreatedAt = parseTime(createdAt)
	tx.SettlementHash = hash.String
	tx.FailureReason = failure.String
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &tx.Metadata)
	}
	return &tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
