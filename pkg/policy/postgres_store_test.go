package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessara-labs/payguard/pkg/fault"
	"github.com/tessara-labs/payguard/pkg/policy"
)

func guardRows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "workspace_id", "name", "type", "enabled", "position", "config", "created_at", "updated_at"}).
		AddRow("g-1", "ws-1", "Daily budget", "budget", true, 0, []byte(`{"limit": "100", "period": "day"}`), now, now).
		AddRow("g-2", "ws-1", "Vendors", "allowlist", true, 1, []byte(`{"addresses": ["0xA"]}`), now, now)
}

func TestPostgresStore_ListGuards(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT (.+) FROM guards WHERE workspace_id = \\$1 ORDER BY position, id").
		WithArgs("ws-1").
		WillReturnRows(guardRows(t))

	s := policy.NewPostgresStore(db)
	guards, err := s.ListGuards(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Len(t, guards, 2)

	budget, ok := guards[0].Config.(policy.BudgetConfig)
	require.True(t, ok)
	assert.True(t, budget.Limit.Equal(*decPtr("100")))
	allow, ok := guards[1].Config.(policy.AllowlistConfig)
	require.True(t, ok)
	assert.Equal(t, []string{"0xA"}, allow.Addresses)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEnabledFiltersOnFlag(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT (.+) FROM guards WHERE workspace_id = \\$1 AND enabled ORDER BY position, id").
		WithArgs("ws-1").
		WillReturnRows(guardRows(t))

	s := policy.NewPostgresStore(db)
	_, err = s.ListEnabled(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetGuard_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT (.+) FROM guards WHERE workspace_id = \\$1 AND id = \\$2").
		WithArgs("ws-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "name", "type", "enabled", "position", "config", "created_at", "updated_at"}))

	s := policy.NewPostgresStore(db)
	_, err = s.GetGuard(context.Background(), "ws-1", "missing")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutGuard_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO guards (.+) ON CONFLICT \\(workspace_id, id\\) DO UPDATE SET").
		WithArgs("g-1", "ws-1", "Daily budget", "budget", true, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := policy.NewPostgresStore(db)
	err = s.PutGuard(context.Background(), policy.Guard{
		ID:          "g-1",
		WorkspaceID: "ws-1",
		Name:        "Daily budget",
		Type:        policy.TypeBudget,
		Enabled:     true,
		Config:      policy.BudgetConfig{Limit: decPtr("100")},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("DELETE FROM guards WHERE workspace_id = \\$1 AND id = \\$2").
		WithArgs("ws-1", "g-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM guards WHERE workspace_id = \\$1 AND id = \\$2").
		WithArgs("ws-1", "g-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := policy.NewPostgresStore(db)
	require.NoError(t, s.DeleteGuard(context.Background(), "ws-1", "g-1"))

	err = s.DeleteGuard(context.Background(), "ws-1", "g-1")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
