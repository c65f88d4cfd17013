// Package evfs implements the encrypted, versioned, tree-structured virtual
// filesystem at the heart of a personal end-to-end-encrypted storage client.
//
// # Overview
//
// A logical filesystem is built from independently encrypted "objects"
// identified by opaque object IDs. Folders are themselves encrypted objects
// whose payload lists child names together with per-child object IDs and
// per-child encryption keys, so knowing a folder's key transitively yields
// the keys of its entire subtree. Files are versioned byte streams; links
// carry self-contained references to nodes elsewhere (possibly in another
// storage).
//
// evfs does not talk to a network or a disk directly. It is wired against
// two ports the application supplies:
//
//   - Storage: allocates object IDs, fetches/saves encrypted object bytes,
//     and streams low-level per-object change events.
//   - Cryptor: turns a node key and a deterministic header nonce into a
//     segmented, authenticated byte stream and back.
//
// Package boxcryptor provides a reference Cryptor built from AES-256-GCM /
// ChaCha20-Poly1305 and Argon2id/PBKDF2 key derivation. Package memstore
// provides a reference in-memory Storage. Neither is required in production
// use; applications are expected to back Storage with their own sync
// protocol and Cryptor with their own key-agreement scheme.
//
// # Basic usage
//
//	cryptor := boxcryptor.New(boxcryptor.CipherAES256GCM, 4)
//	store := memstore.New(evfs.StorageLocal, cryptor)
//	root, err := evfs.Open(ctx, evfs.Config{
//	    Storage:    store,
//	    MasterSalt: masterSalt,
//	    CipherID:   boxcryptor.CipherAES256GCM.ID(),
//	    RootKey:    rootKey,
//	})
//	if err != nil {
//	    panic(err)
//	}
//	defer root.Close()
//
//	_, err = root.WriteText(ctx, "/notes/today.txt", "hello",
//	    evfs.WriteFlags{Create: true})
//
// # Concurrency
//
// Every node serializes its own writers behind a change lock (see nodeCore.doChange);
// readers never block on it and may observe a version slightly behind an
// in-flight write. Cross-folder moves are the only compound lock in the
// system and always acquire both folders in object-ID order.
//
// # Not handled here
//
// POSIX semantics, hard links, permission bits, symlink resolution across
// filesystems, and fsync durability guarantees beyond the underlying store's
// are all out of scope; see spec.md for the full rationale.
package evfs
