package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCfg = `
[PostgreSQL]
PasswordWrite = "secret"

[Web3]
Custody = "0x00000000000000000000000000000000000000c1"

[Engine]
Owner = "0x00000000000000000000000000000000000000f1"
MaxBatchSize = 20
MinimumCustodyBalance = "1000000000000000000"
`

func writeCfg(t *testing.T, content, dotenv string) string {
	dir, err := os.MkdirTemp("", "config")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	path := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	if dotenv != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0600))
	}
	return path
}

func TestLoadNode(t *testing.T) {
	path := writeCfg(t, testCfg, "OFFGRIDPAY_WEB3_KEYSTORE_PASSWORD=fromdotenv\n")
	t.Cleanup(func() { require.NoError(t, os.Unsetenv("OFFGRIDPAY_WEB3_KEYSTORE_PASSWORD")) })
	t.Setenv("OFFGRIDPAY_API_ADDRESS", "0.0.0.0:9000")
	t.Setenv("OFFGRIDPAY_ENGINE_PYUSDTOKEN", "0x00000000000000000000000000000000000000e2")
	t.Setenv("OFFGRIDPAY_API_ALLOWEDORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadNode(path)
	require.NoError(t, err)
	// defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Out)
	assert.Equal(t, 256, cfg.StateDB.Keep)
	assert.Equal(t, 30*time.Second, cfg.Engine.CallTimeout.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Web3.ReceiptLoopInterval.Duration)
	// file
	assert.Equal(t, "secret", cfg.PostgreSQL.PasswordWrite)
	assert.Equal(t, 20, cfg.Engine.MaxBatchSize)
	assert.Equal(t, ethCommon.HexToAddress("0xf1"), cfg.Engine.Owner)
	assert.Equal(t, "1000000000000000000", cfg.Engine.MinimumCustodyBalance.String())
	// env
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Address)
	assert.Equal(t, ethCommon.HexToAddress("0xe2"), cfg.Engine.PyusdToken)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "fromdotenv", cfg.Web3.Keystore.Password)

	pg, err := LoadDB(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", pg.PasswordWrite)
	assert.Equal(t, 5432, pg.PortWrite)
}

func TestLoadNodeInvalid(t *testing.T) {
	// owner missing
	path := writeCfg(t, `
[PostgreSQL]
PasswordWrite = "secret"
[Web3]
Custody = "0x00000000000000000000000000000000000000c1"
[Web3.Keystore]
Password = "pass"
`, "")
	_, err := LoadNode(path)
	assert.Error(t, err)

	t.Setenv("OFFGRIDPAY_ENGINE_OWNER", "not an address")
	_, err = LoadNode(path)
	assert.Error(t, err)

	_, err = LoadNode(filepath.Join(filepath.Dir(path), "missing.toml"))
	assert.Error(t, err)
}
