package cryptox

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ChainHash links payload to the previous link of a hash chain and returns
// the hex-encoded BLAKE2b-256 of prev || payload. An empty prev starts a
// new chain.
func ChainHash(prev string, payload []byte) string {
	h, _ := blake2b.New256(nil) // only errors for oversized keys
	h.Write([]byte(prev))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChainHash recomputes the link and compares it in constant time.
func VerifyChainHash(prev string, payload []byte, want string) bool {
	got := ChainHash(prev, payload)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
