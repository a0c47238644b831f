package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tessara-labs/payguard/pkg/contracts"
)

// SQLiteLedger implements Recorder on SQLite. Appends are serialized by an
// in-process mutex so the sequence/prev-hash chain never forks under
// concurrent writers.
type SQLiteLedger struct {
	db    *sql.DB
	mu    sync.Mutex
	clock func() time.Time
}

// NewSQLiteLedger wraps db and runs the schema migration.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db, clock: time.Now}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides the clock for testing.
func (l *SQLiteLedger) WithClock(clock func() time.Time) *SQLiteLedger {
	l.clock = clock
	return l
}

func (l *SQLiteLedger) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		intent_id TEXT NOT NULL,
		transaction_id TEXT,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT,
		currency TEXT,
		timestamp DATETIME NOT NULL,
		checks JSON,
		content_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_agent_time ON ledger_entries (agent_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_ledger_intent ON ledger_entries (intent_id);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLedger) Append(ctx context.Context, e Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		seq  uint64
		head string
	)
	row := l.db.QueryRowContext(ctx, "SELECT sequence, content_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1")
	err := row.Scan(&seq, &head)
	if err == sql.ErrNoRows {
		head = genesisHash
	} else if err != nil {
		return nil, fmt.Errorf("read ledger head: %w", err)
	}

	e.ID = uuid.New().String()
	e.Sequence = seq + 1
	e.Timestamp = l.clock()
	e.PrevHash = head

	hash, err := hashEntry(e)
	if err != nil {
		return nil, err
	}
	e.ContentHash = hash

	checksJSON, _ := json.Marshal(e.Checks)
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, sequence, agent_id, intent_id, transaction_id, type, description, amount, currency, timestamp, checks, content_hash, prev_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Sequence, e.AgentID, e.IntentID, e.TransactionID, string(e.Type), e.Description,
		e.Amount, e.Currency, e.Timestamp.UTC().Format(time.RFC3339Nano), string(checksJSON), e.ContentHash, e.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	cp := e
	return &cp, nil
}

func (l *SQLiteLedger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, sequence, agent_id, intent_id, transaction_id, type, description, amount, currency, timestamp, checks, content_hash, prev_hash
		FROM ledger_entries WHERE 1=1`
	var args []any
	if f.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, f.AgentID)
	}
	if f.IntentID != "" {
		query += " AND intent_id = ?"
		args = append(args, f.IntentID)
	}
	if f.TransactionID != "" {
		query += " AND transaction_id = ?"
		args = append(args, f.TransactionID)
	}
	if f.Start != nil {
		query += " AND timestamp >= ?"
		args = append(args, f.Start.UTC().Format(time.RFC3339Nano))
	}
	if f.End != nil {
		query += " AND timestamp <= ?"
		args = append(args, f.End.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY timestamp DESC, sequence DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			txID       sql.NullString
			amount     sql.NullString
			currency   sql.NullString
			ts         string
			checksJSON sql.NullString
			etype      string
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &e.AgentID, &e.IntentID, &txID, &etype, &e.Description,
			&amount, &currency, &ts, &checksJSON, &e.ContentHash, &e.PrevHash); err != nil {
			return nil, err
		}
		e.TransactionID = txID.String
		e.Type = EntryType(etype)
		e.Amount = amount.String
		e.Currency = currency.String
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if checksJSON.Valid && checksJSON.String != "" && checksJSON.String != "null" {
			var checks []contracts.CheckResult
			_ = json.Unmarshal([]byte(checksJSON.String), &checks)
			e.Checks = checks
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
