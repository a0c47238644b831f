package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessara-labs/payguard/pkg/policy"
)

const sampleProfile = `
workspace: prod
guards:
  - id: daily-budget
    name: Daily budget
    type: budget
    config:
      limit: 500
      period: day
  - id: tx-cap
    name: Per-transaction cap
    type: single_tx
    enabled: false
    config:
      limit: "2000"
  - id: approved-vendors
    name: Approved vendors
    type: allowlist
    config:
      addresses:
        - "0xA"
        - "0xB"
`

func writeProfile(t *testing.T, workspace, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "guards_"+workspace+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return dir
}

func TestLoadProfile(t *testing.T) {
	dir := writeProfile(t, "prod", sampleProfile)

	guards, err := policy.LoadProfile(dir, "prod")
	require.NoError(t, err)
	require.Len(t, guards, 3)

	assert.Equal(t, "daily-budget", guards[0].ID)
	assert.Equal(t, "prod", guards[0].WorkspaceID)
	assert.True(t, guards[0].Enabled, "enabled defaults to true")
	assert.Equal(t, 0, guards[0].Position)
	budget, ok := guards[0].Config.(policy.BudgetConfig)
	require.True(t, ok)
	require.NotNil(t, budget.Limit)
	assert.True(t, budget.Limit.Equal(*decPtr("500")))
	assert.Equal(t, policy.PeriodDay, budget.Period)

	assert.False(t, guards[1].Enabled)
	txCap, ok := guards[1].Config.(policy.SingleTxConfig)
	require.True(t, ok)
	assert.True(t, txCap.Limit.Equal(*decPtr("2000")))

	allow, ok := guards[2].Config.(policy.AllowlistConfig)
	require.True(t, ok)
	assert.Equal(t, []string{"0xA", "0xB"}, allow.Addresses)
	assert.Equal(t, 2, guards[2].Position)
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := policy.LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load guard profile")
}

func TestLoadProfile_RejectsBadConfigWhole(t *testing.T) {
	dir := writeProfile(t, "prod", `
workspace: prod
guards:
  - id: ok
    name: OK
    type: budget
    config:
      limit: 10
  - id: broken
    name: Broken
    type: rate_limit
    config:
      limit: -1
`)
	_, err := policy.LoadProfile(dir, "prod")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `guard "broken"`)
}

func TestSeedStore(t *testing.T) {
	dir := writeProfile(t, "prod", sampleProfile)
	s := policy.NewMemoryStore()

	require.NoError(t, policy.SeedStore(context.Background(), s, dir, "prod"))

	all, err := s.ListGuards(context.Background(), "prod")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	enabled, err := s.ListEnabled(context.Background(), "prod")
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}
