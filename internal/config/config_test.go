package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "./data/codeproof.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, "cancun", cfg.Chain.DefaultEVMVersion)
	assert.Equal(t, "https://api.etherscan.io/v2/api", cfg.Explorer.URL)
	assert.Equal(t, 5.0, cfg.Explorer.RPS)
	assert.True(t, cfg.Foundry.Build)
	assert.Equal(t, "out", cfg.Foundry.OutDir)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "http://node:8545")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/codeproof")
	t.Setenv("ETHERSCAN_API_KEY", "KEY")
	t.Setenv("EXPLORER_RPS", "0.5")
	t.Setenv("FOUNDRY_ROOT", "/srv/project")
	t.Setenv("FOUNDRY_BUILD", "false")
	t.Setenv("RATE_LIMIT_RPM", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "KEY", cfg.Explorer.APIKey)
	assert.Equal(t, 0.5, cfg.Explorer.RPS)
	assert.Equal(t, "/srv/project", cfg.Foundry.Root)
	assert.False(t, cfg.Foundry.Build)
	// unparsable values fall back to the default
	assert.Equal(t, 300, cfg.RateLimit.RequestsPerMin)
}

func TestLoad_RequiresRPC(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "")

	_, err := Load()
	assert.Error(t, err)
}
