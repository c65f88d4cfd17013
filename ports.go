package evfs

import (
	"context"
	"io"
)

// Storage is the object store backend port. It is consumed, never
// implemented, by this package's node graph; package memstore ships a
// reference in-memory implementation for tests and demos.
//
// Implementations are responsible for their own internal concurrency (e.g.
// serializing SaveObj calls per ObjectID) and for addressing RootObjectID
// as the filesystem's root folder.
type Storage interface {
	// Type reports the storage's linking class (local/synced/share).
	Type() StorageType

	// GenerateNewObjID allocates a fresh, store-assigned object ID.
	GenerateNewObjID(ctx context.Context) (ObjectID, error)

	// GetObj fetches the current encrypted bytes and version of id.
	GetObj(ctx context.Context, id ObjectID) (ObjSource, error)

	// SaveObj persists newVersion of id, pulling encrypted bytes from sub
	// until it reports io.EOF.
	SaveObj(ctx context.Context, id ObjectID, newVersion Version, sub Subscribe) error

	// NodeEvents returns a channel of low-level per-object events. The
	// channel is closed when ctx is done.
	NodeEvents(ctx context.Context) (<-chan NodeEvent, error)

	// PublishNodeEvent records a structural or content change the node
	// graph just committed, so NodeEvents subscribers (watch_tree) observe
	// it. A real synced backend derives this feed from its own native
	// change history; PublishNodeEvent is how the node graph tells a
	// reference or local backend what just happened, since the backend has
	// no other way to learn that an opaque object write was, say, a folder
	// rename rather than a content overwrite. Callers ignore the returned
	// error; it never unwinds the already-committed mutation ev describes.
	PublishNodeEvent(ctx context.Context, ev NodeEvent) error

	// Cryptor returns the segmented-box primitive bound to this storage.
	Cryptor() Cryptor
}

// ObjSource exposes a fetched object's version together with lazy access to
// its header and encrypted segment stream.
type ObjSource interface {
	// Version is the version the store had on hand when it produced this
	// source, or VersionUnknown for an unversioned storage.
	Version() Version

	// ReadHeader returns the object's plaintext-framing header bytes (the
	// bytes NodePersistence wrote ahead of the encrypted segments).
	ReadHeader(ctx context.Context) ([]byte, error)

	// SegmentBytes opens the raw, still-encrypted byte stream following the
	// header. NodePersistence is the only caller; it wraps the result with
	// Cryptor.MakeSegmentsReader using the node's own key and header nonce.
	SegmentBytes(ctx context.Context) (io.Reader, error)
}

// Subscribe is a writer-push handle surfacing encrypted object bytes
// chunk-by-chunk to the store, consumed by Storage.SaveObj.
type Subscribe interface {
	// Next returns the next chunk of encrypted bytes, or io.EOF once the
	// object has been fully produced.
	Next(ctx context.Context) ([]byte, error)
}

// SubscribeFunc adapts a plain function to Subscribe.
type SubscribeFunc func(ctx context.Context) ([]byte, error)

// Next implements Subscribe.
func (f SubscribeFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

// SegmentsReader yields decrypted plaintext segments in order, the
// consumer side of the Cryptor port's segmented-box primitive.
type SegmentsReader interface {
	// ReadNext returns the next plaintext segment, or io.EOF when
	// exhausted.
	ReadNext(ctx context.Context) ([]byte, error)
}

// SegmentsWriter accepts plaintext segments and encrypts them to an
// underlying writer, the producer side of the Cryptor port's segmented-box
// primitive.
type SegmentsWriter interface {
	// WriteNext encrypts and emits one plaintext segment.
	WriteNext(ctx context.Context, plaintext []byte) error
	// Close finalizes the encrypted stream. No further WriteNext calls are
	// valid afterward.
	Close(ctx context.Context) error
}

// ByteSource is a random-access view over a node's decrypted payload, the
// shape FileNode.ReadSrc hands back to callers.
type ByteSource interface {
	// Size returns the total decrypted size.
	Size() int64
	// ReadAt reads the subrange [off, off+len(p)) of the decrypted
	// content, like io.ReaderAt.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// FileByteSink is the streaming write handle FileNode.WriteSink hands back
// to a caller. The caller writes plaintext bytes and calls Done exactly
// once when finished (with a non-nil error to abort).
type FileByteSink interface {
	io.Writer
	// Done signals completion. err, if non-nil, aborts the in-flight save
	// and is propagated to the caller; the node's live version is left
	// unchanged.
	Done(ctx context.Context, err error) error
}

// Cryptor is the segmented-encryption port: an asynchronous, segmented-box
// primitive that turns (key, deterministic header nonce, plaintext) into
// encrypted object bytes and back. Package boxcryptor ships a reference
// implementation; NodePersistence is the only consumer within this
// package.
type Cryptor interface {
	// MakeSegmentsWriter opens a segment encryptor over w, keyed by key and
	// bound to headerNonce.
	MakeSegmentsWriter(ctx context.Context, key, headerNonce []byte, w io.Writer) (SegmentsWriter, error)

	// MakeSegmentsReader opens a segment decryptor over r.
	MakeSegmentsReader(ctx context.Context, key, headerNonce []byte, r io.Reader) (SegmentsReader, error)

	// MakeObjSourceFromArrays builds an in-memory ObjSource out of
	// already-encrypted segments, for tests and small objects.
	MakeObjSourceFromArrays(key, headerNonce []byte, version Version, header []byte, segments [][]byte) (ObjSource, error)

	// MakeEncryptingObjSource encrypts plaintext (read to completion) into
	// a ready ObjSource in one shot, the one-shot counterpart to
	// MakeSegmentsWriter used by NodePersistence.WriteWhole.
	MakeEncryptingObjSource(ctx context.Context, key, headerNonce []byte, version Version, header []byte, plaintext io.Reader) (ObjSource, error)

	// MakeDecryptedByteSource wraps src with random-access decryption.
	MakeDecryptedByteSource(ctx context.Context, key, headerNonce []byte, src ObjSource) (ByteSource, error)

	// Schedule runs fn on the cryptor's own work scheduler, tagged with
	// label for diagnostics. Reference implementations may simply call fn
	// inline or on a worker pool; the label never affects behavior.
	Schedule(ctx context.Context, label string, fn func(context.Context) error) error
}

// StoreEventKind is the closed set of low-level events a Storage reports
// through NodeEvents.
type StoreEventKind uint8

const (
	EvEntryAddition StoreEventKind = iota
	EvEntryRemoval
	EvEntryRenaming
	EvRemoved
	EvFileChange
	// EvAttrChange marks a folder's own attrs/xattrs changing without its
	// child table changing (FolderNode.UpdateXAttrs).
	EvAttrChange
)

// StoreEvent is the folder- or file-shaped payload of a NodeEvent.
type StoreEvent struct {
	Kind StoreEventKind

	// Name is the child name for EvEntryAddition/EvEntryRemoval.
	Name string
	// OldName/NewName are set for EvEntryRenaming.
	OldName, NewName string
	// MoveLabel correlates a paired EvEntryRemoval/EvEntryAddition across
	// two folders into one logical cross-folder move.
	MoveLabel string
}

// NodeEvent is the low-level, objId-addressed event Storage.NodeEvents
// streams; EventRouter translates these into path-shaped events.
type NodeEvent struct {
	// ObjID is the folder (or file, for EvFileChange) the event concerns.
	ObjID ObjectID
	// ParentObjID is set when the store additionally knows the parent of
	// ObjID, letting EventRouter place previously-unseen objects.
	ParentObjID *ObjectID
	Event       StoreEvent
}
