package evfs_test

import (
	"context"
	"testing"

	"github.com/privfs/evfs"
	"github.com/privfs/evfs/boxcryptor"
	"github.com/privfs/evfs/memstore"
)

// newTestRoot builds a fresh VFSRoot over a memstore/boxcryptor pair, the
// harness every external test in this package mounts a filesystem through.
func newTestRoot(t *testing.T) *evfs.VFSRoot {
	t.Helper()
	cryptor := boxcryptor.New(boxcryptor.CipherChaCha20Poly1305, 2)
	store := memstore.New(evfs.StorageLocal, cryptor)

	masterSalt := make([]byte, 32)
	for i := range masterSalt {
		masterSalt[i] = byte(i)
	}
	rootKey := make([]byte, 32)
	for i := range rootKey {
		rootKey[i] = byte(i + 1)
	}

	root, err := evfs.Open(context.Background(), evfs.Config{
		Storage:    store,
		MasterSalt: masterSalt,
		CipherID:   boxcryptor.CipherChaCha20Poly1305.ID(),
		RootKey:    rootKey,
	})
	if err != nil {
		t.Fatalf("evfs.Open: %v", err)
	}
	t.Cleanup(func() { root.Close() })
	return root
}
