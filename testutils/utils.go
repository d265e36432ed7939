package testutils

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// TestChainID is the TomoChain mainnet chain id.
var TestChainID = big.NewInt(88)

type Key struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

func CreateKey(rand io.Reader) *Key {
	randBytes := make([]byte, 64)
	_, err := rand.Read(randBytes)
	if err != nil {
		panic("key generation: could not read from random source: " + err.Error())
	}
	reader := bytes.NewReader(randBytes)
	privateKeyECDSA, err := ecdsa.GenerateKey(crypto.S256(), reader)
	if err != nil {
		panic("key generation: ecdsa.GenerateKey failed: " + err.Error())
	}
	return &Key{
		Address:    crypto.PubkeyToAddress(privateKeyECDSA.PublicKey),
		PrivateKey: privateKeyECDSA,
	}
}

func RandomAddress() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func RandomHash() string {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(crypto.FromECDSA(key)).Hex()
}

type SignedTx struct {
	Tx   *types.Transaction
	Raw  []byte
	Hash string
}

// SignLegacyTx signs an EIP-155 value transfer from key for TestChainID.
func SignLegacyTx(t testing.TB, key *Key, nonce uint64, to common.Address, value *big.Int) SignedTx {
	return SignLegacyTxForChain(t, key, TestChainID, nonce, to, value)
}

func SignLegacyTxForChain(t testing.TB, key *Key, chainID *big.Int, nonce uint64, to common.Address, value *big.Int) SignedTx {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(250_000_000),
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key.PrivateKey)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return SignedTx{Tx: signed, Raw: raw, Hash: signed.Hash().Hex()}
}
