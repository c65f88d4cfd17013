package main

import (
	"context"
	"fmt"

	"github.com/privfs/evfs"
	"github.com/privfs/evfs/boxcryptor"
	"github.com/privfs/evfs/memstore"
)

// openDemoRoot builds a fresh in-memory VFSRoot from cfg and passphrase, the
// same Config/Open wiring a real application performs, just backed by
// memstore instead of a network Storage.
func openDemoRoot(ctx context.Context, cfg *Config, passphrase string) (*evfs.VFSRoot, error) {
	suite, err := cipherSuiteFromName(cfg.CipherSuite)
	if err != nil {
		return nil, err
	}
	cryptor := boxcryptor.New(suite, cfg.Workers)
	store := memstore.New(evfs.StorageLocal, cryptor)

	deriver := boxcryptor.NewPasswordDeriverArgon2id([]byte(passphrase), boxcryptor.Argon2idParams{
		Time:        cfg.Argon2.Time,
		Memory:      cfg.Argon2.MemoryKiB,
		Parallelism: cfg.Argon2.Parallelism,
	})
	salt, err := deriver.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	rootKey, masterSalt, err := deriver.DeriveRootMaterial(salt)
	if err != nil {
		return nil, fmt.Errorf("deriving root material: %w", err)
	}

	return evfs.Open(ctx, evfs.Config{
		Storage:    store,
		MasterSalt: masterSalt,
		CipherID:   suite.ID(),
		RootKey:    rootKey,
	})
}

func cipherSuiteFromName(name string) (boxcryptor.CipherSuite, error) {
	switch name {
	case "", "chacha20poly1305":
		return boxcryptor.CipherChaCha20Poly1305, nil
	case "aes256gcm":
		return boxcryptor.CipherAES256GCM, nil
	default:
		return 0, fmt.Errorf("unknown cipher_suite %q (want chacha20poly1305 or aes256gcm)", name)
	}
}

// runDemo drives a scripted end-to-end walk of the VFS: folders, a written
// and re-read file, a move, and a watch_tree subscription that prints the
// first event it observes (the addition of /archive). It prints each step so `vfsdemo demo` can be used as
// a smoke test against the reference Storage/Cryptor pair without a real
// backend.
func runDemo(ctx context.Context, cfg *Config, passphrase string) error {
	root, err := openDemoRoot(ctx, cfg, passphrase)
	if err != nil {
		return err
	}
	defer root.Close()

	step := func(format string, args ...any) { fmt.Printf("-- %s\n", fmt.Sprintf(format, args...)) }

	step("mounting fresh in-memory VFS (cipher=%s, workers=%d)", cfg.CipherSuite, cfg.Workers)

	if err := root.MakeFolder(ctx, "/docs", true); err != nil {
		return fmt.Errorf("mkdir /docs: %w", err)
	}
	step("created /docs")

	if _, err := root.WriteText(ctx, "/docs/readme.txt", "hello, encrypted vfs", evfs.WriteFlags{Create: true}); err != nil {
		return fmt.Errorf("write /docs/readme.txt: %w", err)
	}
	step("wrote /docs/readme.txt")

	events, detach, err := root.WatchTree(ctx, "/")
	if err != nil {
		return fmt.Errorf("watch_tree /: %w", err)
	}
	defer detach()

	text, version, err := root.ReadText(ctx, "/docs/readme.txt")
	if err != nil {
		return fmt.Errorf("read /docs/readme.txt: %w", err)
	}
	step("read back %q (version %d)", text, version)

	if err := root.MakeFolder(ctx, "/archive", true); err != nil {
		return fmt.Errorf("mkdir /archive: %w", err)
	}
	if err := root.Move(ctx, "/docs/readme.txt", "/archive/readme.txt"); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	step("moved /docs/readme.txt -> /archive/readme.txt")

	select {
	case ev := <-events:
		step("watch_tree observed: %s %s", eventKindName(ev.Event.Kind), ev.Path)
	case <-ctx.Done():
		return ctx.Err()
	}

	entries, _, err := root.ListFolder(ctx, "/archive")
	if err != nil {
		return fmt.Errorf("list /archive: %w", err)
	}
	for _, e := range entries {
		step("/archive entry: %s", e)
	}

	return nil
}

func eventKindName(k evfs.StoreEventKind) string {
	switch k {
	case evfs.EvEntryAddition:
		return "entry-added"
	case evfs.EvEntryRemoval:
		return "entry-removed"
	case evfs.EvEntryRenaming:
		return "entry-renamed"
	case evfs.EvRemoved:
		return "removed"
	case evfs.EvFileChange:
		return "file-changed"
	default:
		return "unknown"
	}
}
