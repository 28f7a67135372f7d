package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_TOKEN_FILE", filepath.Join(t.TempDir(), "missing"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.BackendTimeout)
	require.Equal(t, 4*time.Second, cfg.ReceiptPollInterval)
	require.Zero(t, cfg.SettleTimeout)
	require.Equal(t, "stderr", cfg.LogOutput)
	require.Empty(t, cfg.BackendToken)
	require.EqualValues(t, 18, cfg.TokenDecimals)
	require.Equal(t, "us", cfg.DocumentAILocation)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SETTLE_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SETTLE_TIMEOUT")
}

func TestValidateChain(t *testing.T) {
	cfg := &Config{
		ChainRPCURL:     "http://localhost:8545",
		ChainID:         688688,
		ContractAddress: "0x00000000000000000000000000000000000000c0",
		KeystorePath:    "key.json",
	}
	require.NoError(t, cfg.ValidateChain())

	cfg.ContractAddress = "not-an-address"
	require.Error(t, cfg.ValidateChain())
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	t.Setenv("BACKEND_TOKEN_FILE", path)

	cfg := &Config{BackendTokenFile: path}
	require.NoError(t, cfg.SaveToken("jwt-abc"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	require.Equal(t, "jwt-abc", loaded.BackendToken)
}
