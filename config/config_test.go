package config

import (
	_ "embed"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/config"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/tomoswap/txsync/sdk"
	"github.com/tomoswap/txsync/txm"
)

//go:embed testdata/config-full.toml
var fullTOML string

const minimalTOML = `
Wallet = "0x36f6f1a5d1b1f2a2e2a3d8e3d5a1b6c7d8e9f0a1"

[Node]
URL = "https://rpc.tomochain.com"
`

func TestDecode_Full(t *testing.T) {
	c, err := Decode(strings.NewReader(fullTOML))
	require.NoError(t, err)
	c.SetDefaults()
	require.NoError(t, c.ValidateConfig())

	assert.Equal(t, "89", c.ChainIDBig().String())
	assert.Equal(t, "debug", *c.LogLevel)
	assert.Equal(t, "https://rpc.testnet.tomochain.com", c.NodeURL().String())
	assert.Equal(t, txm.TxmConfig{
		PollPeriod:            5 * time.Second,
		GracePeriod:           2 * time.Minute,
		MaxConcurrentRequests: 4,
		ChainID:               big.NewInt(89),
	}, c.TxmConfig())
	assert.Equal(t, sdk.ClientConfig{Timeout: 3 * time.Second, RequestsPerSecond: 5.5, Burst: 2}, c.ClientConfig())
	assert.Equal(t, 30*time.Second, c.StatePollPeriod())
	assert.Equal(t, BackendPostgres, *c.Store.Backend)
	assert.Equal(t, "wallet-events", *c.Notify.Channel)
	assert.Equal(t, 8, *c.Notify.BufferSize)
	assert.Equal(t, "127.0.0.1:9090", *c.API.ListenAddress)
}

func TestDecode_Defaults(t *testing.T) {
	c, err := Decode(strings.NewReader(minimalTOML))
	require.NoError(t, err)
	c.SetDefaults()
	require.NoError(t, c.ValidateConfig())

	assert.Equal(t, "88", *c.ChainID)
	assert.Equal(t, "info", *c.LogLevel)
	assert.Equal(t, txm.TxmConfig{
		PollPeriod:            txm.DefaultPollPeriod,
		GracePeriod:           txm.DefaultGracePeriod,
		MaxConcurrentRequests: txm.DefaultMaxConcurrentRequests,
		ChainID:               big.NewInt(88),
	}, c.TxmConfig())
	assert.Equal(t, sdk.DefaultRPCTimeout, c.ClientConfig().Timeout)
	assert.Equal(t, BackendMemory, *c.Store.Backend)
	assert.Empty(t, *c.Notify.RedisURL)
	assert.Equal(t, ":8080", *c.API.ListenAddress)

	// defaults are not shared between configs
	*c.Notify.BufferSize = 1
	var other Config
	other.SetDefaults()
	assert.Equal(t, 64, *other.Notify.BufferSize)
}

func TestDecode_UnknownField(t *testing.T) {
	_, err := Decode(strings.NewReader(minimalTOML + "\nConfirmations = 12\n"))
	require.ErrorContains(t, err, "Confirmations")

	_, err = Decode(strings.NewReader(`[Reconciler]
PollPeriod = "often"`))
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	for _, tc := range []struct {
		name   string
		toml   string
		expErr []string
	}{
		{
			name:   "missing wallet and node",
			toml:   ``,
			expErr: []string{"Wallet: missing", "Node.URL: missing"},
		},
		{
			name: "bad values",
			toml: `ChainID = "tomo"
Wallet = "0x1234"
LogLevel = "loud"
[Reconciler]
PollPeriod = "0s"
MaxConcurrentRequests = 0
[Node]
URL = "https://rpc.tomochain.com"
Burst = 0
[Store]
Backend = "sqlite"
[Notify]
BufferSize = -1`,
			expErr: []string{
				"ChainID: invalid value (tomo)",
				"Wallet: invalid value (0x1234)",
				"LogLevel: invalid value (loud)",
				"Reconciler.PollPeriod: invalid value",
				"Reconciler.MaxConcurrentRequests: invalid value (0)",
				"Node.Burst: invalid value (0)",
				"Store.Backend: invalid value (sqlite)",
				"Notify.BufferSize: invalid value (-1)",
			},
		},
		{
			name: "postgres without url",
			toml: minimalTOML + `[Store]
Backend = "postgres"`,
			expErr: []string{"Store.DatabaseURL: empty"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Decode(strings.NewReader(tc.toml))
			require.NoError(t, err)
			c.SetDefaults()
			err = c.ValidateConfig()
			require.Error(t, err)
			for _, exp := range tc.expErr {
				assert.ErrorContains(t, err, exp)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Decode(strings.NewReader(minimalTOML))
	require.NoError(t, err)

	err = c.ApplyEnv(tests.Context(t), envconfig.MapLookuper(map[string]string{
		"TXSYNC_NODE_URL":       "http://localhost:8545",
		"TXSYNC_DATABASE_URL":   "postgres://localhost/txsync",
		"TXSYNC_REDIS_URL":      "redis://localhost:6379",
		"TXSYNC_WALLET":         "0x000000000000000000000000000000000000dead",
		"TXSYNC_LISTEN_ADDRESS": ":9999",
		"NODE_URL":              "http://ignored:1",
	}))
	require.NoError(t, err)
	c.SetDefaults()
	require.NoError(t, c.ValidateConfig())

	assert.Equal(t, "http://localhost:8545", c.NodeURL().String())
	assert.Equal(t, "postgres://localhost/txsync", *c.Store.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379", *c.Notify.RedisURL)
	assert.Equal(t, "0x000000000000000000000000000000000000dead", *c.Wallet)
	assert.Equal(t, ":9999", *c.API.ListenAddress)

	err = c.ApplyEnv(tests.Context(t), envconfig.MapLookuper(map[string]string{
		"TXSYNC_NODE_URL": "://nope",
	}))
	require.ErrorContains(t, err, "TXSYNC_NODE_URL")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalTOML), 0o600))
	t.Setenv("TXSYNC_LISTEN_ADDRESS", ":7070")

	c, err := Load(tests.Context(t), path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", *c.API.ListenAddress)
	assert.Equal(t, config.MustParseURL("https://rpc.tomochain.com"), c.Node.URL)

	require.NoError(t, os.WriteFile(path, []byte(`Wallet = "0x1"`), 0o600))
	_, err = Load(tests.Context(t), path)
	require.ErrorContains(t, err, "invalid config")

	_, err = Load(tests.Context(t), filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "failed to open config")
}
