package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p2pescrow/internal/escrow"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(dir, "missing.json"))
	for _, key := range []string{
		"ESCROW_VARIANT", "API_HTTP_PORT", "JOURNAL_DRIVER", "IDEMPOTENCY_DRIVER",
		"POSTGRES_DSN", "CHAIN_RPC_URL", "ESCROW_CONTRACT_ADDRESS", "AUTH_TRUST_CALLER_HEADER",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Service.HTTPPort)
	require.Equal(t, time.Minute, cfg.Service.ClockSkew)
	require.Equal(t, escrow.VariantExpanded, cfg.Service.Variant)
	require.Equal(t, "memory", cfg.Storage.JournalDriver)
	require.False(t, cfg.Service.TrustCallerHeader)
}

func TestLoadReadsDeploymentsAndEnvFile(t *testing.T) {
	dir := isolate(t)

	deployments := filepath.Join(dir, "deployments.json")
	require.NoError(t, os.WriteFile(deployments, []byte(`{
  "network": "sepolia",
  "chainId": 11155111,
  "variant": "simple",
  "contracts": {"P2PEscrow": "0x2207Bab64eAF91daf61e3EB562E97E1a26be8f73"}
}`), 0o600))
	t.Setenv("DEPLOYMENTS_PATH", deployments)

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("API_HTTP_PORT=8088\nJOURNAL_DRIVER=leveldb\n"), 0o600))
	t.Setenv("ENV_FILE", envFile)
	// godotenv never overrides variables that are already set.
	require.NoError(t, os.Unsetenv("API_HTTP_PORT"))
	require.NoError(t, os.Unsetenv("JOURNAL_DRIVER"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(11155111), cfg.Deployment.ChainID)
	require.Equal(t, escrow.VariantSimple, cfg.Service.Variant)
	require.Equal(t, "0x2207Bab64eAF91daf61e3EB562E97E1a26be8f73", cfg.Chain.Contract)
	require.Equal(t, 8088, cfg.Service.HTTPPort)
	require.Equal(t, "leveldb", cfg.Storage.JournalDriver)
}

func TestValidateRejectsBadDrivers(t *testing.T) {
	cfg := &AppConfig{Storage: StorageConfig{JournalDriver: "postgres", IdempotencyDriver: "memory"}}
	require.Error(t, cfg.Validate())

	cfg.Storage.JournalDriver = "sqlite"
	require.Error(t, cfg.Validate())

	cfg.Storage.JournalDriver = "memory"
	cfg.Chain.RPCURL = "http://localhost:8545"
	require.Error(t, cfg.Validate())

	cfg.Chain.Contract = "0x2207Bab64eAF91daf61e3EB562E97E1a26be8f73"
	require.NoError(t, cfg.Validate())
}

func TestUnknownVariant(t *testing.T) {
	isolate(t)
	t.Setenv("ESCROW_VARIANT", "deluxe")
	_, err := Load()
	require.Error(t, err)
}
