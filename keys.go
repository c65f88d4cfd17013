package evfs

import "crypto/rand"

// nodeKeySize is the size, in bytes, of every node's own symmetric key —
// 256 bits, matching AES-256-GCM/ChaCha20-Poly1305 key size so boxcryptor
// never needs to stretch or truncate a node key.
const nodeKeySize = 32

// randomKey returns n fresh, cryptographically random bytes, used whenever
// FolderNode mints a new child's key.
func randomKey(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("evfs: system randomness unavailable: " + err.Error())
	}
	return b
}
