package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadQuotaPolicyDefaultsWithoutFile(t *testing.T) {
	holder, err := LoadQuotaPolicy(zap.NewNop(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DefaultQuotaPolicy(), holder.Get())
}

func TestLoadQuotaPolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte("quota:\n  freeTier:\n    maxSubmissionsPerMonth: 5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quota.yml"), body, 0o600))

	holder, err := LoadQuotaPolicy(zap.NewNop(), dir)
	require.NoError(t, err)

	policy := holder.Get()
	require.Equal(t, 1, policy.FreeTier.MaxResourceTypesPerMonth)
	require.Equal(t, 5, policy.FreeTier.MaxSubmissionsPerMonth)
}

func TestLoadQuotaPolicyRejectsNegativeLimits(t *testing.T) {
	dir := t.TempDir()
	body := []byte("quota:\n  freeTier:\n    maxResourceTypesPerMonth: -1\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quota.yml"), body, 0o600))

	_, err := LoadQuotaPolicy(zap.NewNop(), dir)
	require.Error(t, err)
}

func TestLoadQuotaPolicyKeepsDefaultsForOmittedKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("quota:\n  freeTier:\n    maxResourceTypesPerMonth: 3\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quota.yml"), body, 0o600))

	holder, err := LoadQuotaPolicy(zap.NewNop(), dir)
	require.NoError(t, err)

	policy := holder.Get()
	require.Equal(t, 3, policy.FreeTier.MaxResourceTypesPerMonth)
	require.Equal(t, 2, policy.FreeTier.MaxSubmissionsPerMonth)
}
