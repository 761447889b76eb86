package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// TokenSerial derives a deterministic 256-bit integer from seed. The asset
// handlers use it to allocate token serials from a transaction id, so every
// mint lands on a fresh serial without any counter state.
func TokenSerial(seed string) *big.Int {
	h := sha256.Sum256([]byte(seed))
	return new(big.Int).SetBytes(h[:])
}
