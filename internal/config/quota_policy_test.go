package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaPolicyDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewQuotaPolicyHolder(Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultQuotaPolicy(), holder.Get())
}

func TestQuotaPolicyLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.yml")
	body := []byte("quota:\n  sweepInterval: 1m\n  graceWindow: 2m\n  sweepBatchSize: 10\n  snapshotTTL: 5s\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	holder, err := NewQuotaPolicyHolder(Config{Quota: QuotaConfig{PolicyPath: path}})
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, time.Minute, policy.SweepInterval)
	assert.Equal(t, 2*time.Minute, policy.GraceWindow)
	assert.Equal(t, 10, policy.SweepBatchSize)
	assert.Equal(t, 5*time.Second, policy.SnapshotTTL)
	assert.Equal(t, DefaultQuotaPolicy().ResolverTTL, policy.ResolverTTL)
}

func TestQuotaPolicyRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.yml")
	require.NoError(t, os.WriteFile(path, []byte("quota:\n  graceWindow: 0s\n"), 0o600))

	_, err := NewQuotaPolicyHolder(Config{Quota: QuotaConfig{PolicyPath: path}})
	assert.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *QuotaPolicyHolder
	assert.Equal(t, DefaultQuotaPolicy(), holder.Get())
}
