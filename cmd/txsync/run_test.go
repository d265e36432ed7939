package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/tomoswap/txsync/config"
	"github.com/tomoswap/txsync/testutils"
)

func TestNewApp(t *testing.T) {
	node := testutils.NewFakeNode(t)
	cfg, err := config.Decode(strings.NewReader(`
Wallet = "0x36f6f1a5d1b1f2a2e2a3d8e3d5a1b6c7d8e9f0a1"
[Node]
URL = "` + node.URL().String() + `"
[API]
ListenAddress = "127.0.0.1:0"
`))
	require.NoError(t, err)
	cfg.SetDefaults()
	require.NoError(t, cfg.ValidateConfig())

	ctx := tests.Context(t)
	a, err := newApp(ctx, cfg, logger.Test(t))
	require.NoError(t, err)
	require.NoError(t, a.session.Start(ctx, *cfg.Wallet))

	report := a.HealthReport()
	var names []string
	for name, err := range report {
		assert.NoError(t, err, name)
		names = append(names, name)
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "API")
	assert.Contains(t, joined, "StateMonitor")
	assert.Contains(t, joined, "Session")

	require.NoError(t, a.Close())
	assert.Empty(t, a.session.Wallet())
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("chatty")
	require.Error(t, err)
}
