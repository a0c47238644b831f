package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tessara-labs/payguard/pkg/fault"
)

// PostgresStore implements Store on PostgreSQL. Guard configs are stored as
// JSONB and decoded through the same tagged-union path as the wire format.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the guards table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS guards (
		id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		position INTEGER NOT NULL DEFAULT 0,
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (workspace_id, id)
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const guardColumns = "id, workspace_id, name, type, enabled, position, config, created_at, updated_at"

func (s *PostgresStore) ListGuards(ctx context.Context, workspaceID string) ([]Guard, error) {
	query := fmt.Sprintf("SELECT %s FROM guards WHERE workspace_id = $1 ORDER BY position, id", guardColumns)
	return s.list(ctx, query, workspaceID)
}

func (s *PostgresStore) ListEnabled(ctx context.Context, workspaceID string) ([]Guard, error) {
	query := fmt.Sprintf("SELECT %s FROM guards WHERE workspace_id = $1 AND enabled ORDER BY position, id", guardColumns)
	return s.list(ctx, query, workspaceID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Guard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list guards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var guards []Guard
	for rows.Next() {
		g, err := scanGuard(rows)
		if err != nil {
			return nil, err
		}
		guards = append(guards, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return guards, nil
}

func (s *PostgresStore) GetGuard(ctx context.Context, workspaceID, guardID string) (*Guard, error) {
	query := fmt.Sprintf("SELECT %s FROM guards WHERE workspace_id = $1 AND id = $2", guardColumns)
	row := s.db.QueryRowContext(ctx, query, workspaceID, guardID)
	g, err := scanGuard(row)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("guard", guardID)
	}
	if err != nil {
		return nil, fmt.Errorf("get guard: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) PutGuard(ctx context.Context, g Guard) error {
	cfg, err := json.Marshal(g.Config)
	if err != nil {
		return fmt.Errorf("marshal %s config: %w", g.Type, err)
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	query := `
		INSERT INTO guards (id, workspace_id, name, type, enabled, position, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workspace_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			enabled = EXCLUDED.enabled,
			position = EXCLUDED.position,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		g.ID, g.WorkspaceID, g.Name, string(g.Type), g.Enabled, g.Position, cfg, g.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("persist guard: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGuard(ctx context.Context, workspaceID, guardID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM guards WHERE workspace_id = $1 AND id = $2", workspaceID, guardID)
	if err != nil {
		return fmt.Errorf("delete guard: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("guard", guardID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuard(row rowScanner) (*Guard, error) {
	var (
		g        Guard
		gtype    string
		cfgJSON  []byte
		created  time.Time
		updated  time.Time
		position int
	)
	err := row.Scan(&g.ID, &g.WorkspaceID, &g.Name, &gtype, &g.Enabled, &position, &cfgJSON, &created, &updated)
	if err != nil {
		return nil, err
	}
	g.Type = GuardType(gtype)
	g.Position = position
	g.CreatedAt = created
	g.UpdatedAt = updated

	cfg, err := DecodeConfig(g.Type, cfgJSON)
	if err != nil {
		return nil, err
	}
	g.Config = cfg
	return &g, nil
}
