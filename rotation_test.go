package evfs_test

import (
	"context"
	"testing"

	"github.com/privfs/evfs"
	"github.com/privfs/evfs/boxcryptor"
	"github.com/privfs/evfs/memstore"
)

func TestRotateRootKeyPreservesContent(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if _, err := root.WriteText(ctx, "/a.txt", "hello", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := root.RotateRootKey(ctx, nil); err != nil {
		t.Fatalf("RotateRootKey: %v", err)
	}

	text, _, err := root.ReadText(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("read after rotate: %v", err)
	}
	if text != "hello" {
		t.Fatalf("content = %q after rotate, want %q", text, "hello")
	}
}

func TestRotateRootKeyWithExplicitKey(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	newKey := make([]byte, 32)
	for i := range newKey {
		newKey[i] = byte(0xA0 + i)
	}
	if err := root.RotateRootKey(ctx, newKey); err != nil {
		t.Fatalf("RotateRootKey: %v", err)
	}
	if err := root.MakeFolder(ctx, "/after-rotate", true); err != nil {
		t.Fatalf("mkdir after rotate: %v", err)
	}
	entries, _, err := root.ListFolder(ctx, "/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "after-rotate" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestRotateChildKeyPreservesContentAndIdentity(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if err := root.MakeFolder(ctx, "/docs", true); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := root.WriteText(ctx, "/docs/notes.txt", "rotate me", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	statBefore, err := root.Stat(ctx, "/docs/notes.txt")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	paramsBefore, err := root.GetLinkParams(ctx, "/docs/notes.txt")
	if err != nil {
		t.Fatalf("GetLinkParams: %v", err)
	}

	if err := root.RotateKey(ctx, "/docs/notes.txt"); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}

	text, _, err := root.ReadText(ctx, "/docs/notes.txt")
	if err != nil {
		t.Fatalf("read after rotate: %v", err)
	}
	if text != "rotate me" {
		t.Fatalf("content = %q after rotate, want %q", text, "rotate me")
	}
	statAfter, err := root.Stat(ctx, "/docs/notes.txt")
	if err != nil {
		t.Fatalf("stat after rotate: %v", err)
	}
	if statAfter.Kind != statBefore.Kind {
		t.Fatalf("kind changed across rotation: %v -> %v", statBefore.Kind, statAfter.Kind)
	}
	paramsAfter, err := root.GetLinkParams(ctx, "/docs/notes.txt")
	if err != nil {
		t.Fatalf("GetLinkParams after rotate: %v", err)
	}
	if paramsAfter.File.ObjID != paramsBefore.File.ObjID {
		t.Fatalf("objId changed across rotation: %v -> %v", paramsBefore.File.ObjID, paramsAfter.File.ObjID)
	}
}

func TestRotateKeyOnRootPathDelegatesToRotateRootKey(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if _, err := root.WriteText(ctx, "/a.txt", "root rotation via path", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := root.RotateKey(ctx, "/"); err != nil {
		t.Fatalf("RotateKey(/): %v", err)
	}
	text, _, err := root.ReadText(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("read after rotate: %v", err)
	}
	if text != "root rotation via path" {
		t.Fatalf("content = %q after rotate", text)
	}
}

func TestOpenWithRootKeyProviderTriesOldKeysAfterRotation(t *testing.T) {
	ctx := context.Background()
	cryptor := boxcryptor.New(boxcryptor.CipherChaCha20Poly1305, 2)
	store := memstore.New(evfs.StorageLocal, cryptor)
	masterSalt := make([]byte, 32)
	for i := range masterSalt {
		masterSalt[i] = byte(i)
	}
	oldKey := make([]byte, 32)
	for i := range oldKey {
		oldKey[i] = byte(i + 1)
	}

	first, err := evfs.Open(ctx, evfs.Config{
		Storage:    store,
		MasterSalt: masterSalt,
		CipherID:   boxcryptor.CipherChaCha20Poly1305.ID(),
		RootKey:    oldKey,
	})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := first.WriteText(ctx, "/a.txt", "provider content", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	first.Close()

	// A caller mid key-rotation-window re-opens with Current pointed at a new
	// key but Previous still listing the key actually on disk.
	newKey := make([]byte, 32)
	for i := range newKey {
		newKey[i] = byte(0x50 + i)
	}
	provider, err := evfs.NewRootKeyProvider(newKey, oldKey)
	if err != nil {
		t.Fatalf("NewRootKeyProvider: %v", err)
	}
	second, err := evfs.Open(ctx, evfs.Config{
		Storage:    store,
		MasterSalt: masterSalt,
		CipherID:   boxcryptor.CipherChaCha20Poly1305.ID(),
		RootKeys:   provider,
	})
	if err != nil {
		t.Fatalf("second Open with RootKeyProvider: %v", err)
	}
	defer second.Close()

	text, _, err := second.ReadText(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("read under previous key: %v", err)
	}
	if text != "provider content" {
		t.Fatalf("content = %q", text)
	}

	if err := second.RotateRootKey(ctx, newKey); err != nil {
		t.Fatalf("RotateRootKey: %v", err)
	}
	if _, _, err := second.ReadText(ctx, "/a.txt"); err != nil {
		t.Fatalf("read after completing rotation: %v", err)
	}
}
