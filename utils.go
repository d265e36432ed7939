package txsync

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256Hex returns the 0x-prefixed Keccak-256 digest of b. For a signed, binary encoded
// transaction this is the transaction hash.
func Keccak256Hex(b []byte) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(b)
	return "0x" + hex.EncodeToString(hash.Sum(nil))
}

// NormalizeHash validates a transaction hash and returns it lower-cased with a 0x prefix.
func NormalizeHash(h string) (string, error) {
	s := strings.TrimSpace(h)
	if !has0xPrefix(s) {
		s = "0x" + s
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return "", fmt.Errorf("invalid hash %q: %w", h, err)
	}
	if len(b) != common.HashLength {
		return "", fmt.Errorf("invalid hash %q: expected %d bytes, got %d", h, common.HashLength, len(b))
	}
	return strings.ToLower(s), nil
}

// NormalizeAddress validates a chain address and returns it lower-cased with a 0x prefix.
func NormalizeAddress(a string) (string, error) {
	s := strings.TrimSpace(a)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address %q", a)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// DecodeHex decodes a hex string with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if has0xPrefix(s) {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
