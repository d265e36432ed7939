package txsync_test

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tomoswap/txsync"
	"github.com/tomoswap/txsync/testutils"
)

func TestKeccak256Hex(t *testing.T) {
	require.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", txsync.Keccak256Hex(nil))

	key := testutils.CreateKey(rand.Reader)
	signed := testutils.SignLegacyTx(t, key, 7, testutils.RandomAddress(), big.NewInt(100))
	require.Equal(t, signed.Hash, txsync.Keccak256Hex(signed.Raw))
}

func TestNormalizeHash(t *testing.T) {
	const h = "0x2A037789237971c1c1d648f7b90b70c68a9aa6b0a2892f947213286346d0210d"

	got, err := txsync.NormalizeHash(h)
	require.NoError(t, err)
	require.Equal(t, "0x2a037789237971c1c1d648f7b90b70c68a9aa6b0a2892f947213286346d0210d", got)

	got, err = txsync.NormalizeHash(h[2:])
	require.NoError(t, err)
	require.Equal(t, "0x2a037789237971c1c1d648f7b90b70c68a9aa6b0a2892f947213286346d0210d", got)

	_, err = txsync.NormalizeHash("0xAAA")
	require.Error(t, err)

	_, err = txsync.NormalizeHash("0x1234")
	require.ErrorContains(t, err, "expected 32 bytes, got 2")
}

func TestNormalizeAddress(t *testing.T) {
	got, err := txsync.NormalizeAddress("0x36F6F1A5D1b1f2A2e2a3D8e3d5A1B6C7D8E9F0A1")
	require.NoError(t, err)
	require.Equal(t, "0x36f6f1a5d1b1f2a2e2a3d8e3d5a1b6c7d8e9f0a1", got)

	_, err = txsync.NormalizeAddress("0x1")
	require.ErrorContains(t, err, "invalid address")
}

func TestDecodeHex(t *testing.T) {
	b, err := txsync.DecodeHex("0x0102")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, b)

	b, err = txsync.DecodeHex("0a")
	require.NoError(t, err)
	require.Equal(t, []byte{10}, b)

	_, err = txsync.DecodeHex("0xzz")
	require.Error(t, err)
}
