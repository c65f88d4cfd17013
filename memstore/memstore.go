// Package memstore is an in-memory Storage reference implementation,
// exercising the evfs.Storage port the way the teacher's memfs backed
// absfs.FileSystem in local tests and demos.
package memstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/privfs/evfs"
)

// object is one stored version of a node: the plaintext framing header and
// the still-encrypted segment bytes following it, kept separate exactly as
// Storage.GetObj's ObjSource contract requires (header read independently of
// segment bytes, so NodePersistence never has to buffer the whole object to
// find where the header ends).
type object struct {
	version evfs.Version
	header  []byte
	body    []byte
}

// Store is a process-local, lock-guarded object table. It never persists to
// disk; every object and event subscription is lost when the process exits.
type Store struct {
	storageType evfs.StorageType
	cryptor     evfs.Cryptor

	mu      sync.RWMutex
	objects map[evfs.ObjectID]*object

	events *broadcaster
}

// New constructs an empty Store of the given storage class, bound to
// cryptor for Storage.Cryptor().
func New(storageType evfs.StorageType, cryptor evfs.Cryptor) *Store {
	return &Store{
		storageType: storageType,
		cryptor:     cryptor,
		objects:     make(map[evfs.ObjectID]*object),
		events:      newBroadcaster(),
	}
}

// Type implements evfs.Storage.
func (s *Store) Type() evfs.StorageType { return s.storageType }

// Cryptor implements evfs.Storage.
func (s *Store) Cryptor() evfs.Cryptor { return s.cryptor }

// GenerateNewObjID implements evfs.Storage, handing out a fresh random
// identity per object. RootObjectID is reserved and never generated here.
func (s *Store) GenerateNewObjID(ctx context.Context) (evfs.ObjectID, error) {
	for {
		id := evfs.ObjectID(uuid.New().String())
		if id == evfs.RootObjectID {
			continue
		}
		return id, nil
	}
}

// GetObj implements evfs.Storage.
func (s *Store) GetObj(ctx context.Context, id evfs.ObjectID) (evfs.ObjSource, error) {
	s.mu.RLock()
	obj, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, evfs.ErrNotFound(string(id))
	}
	return &objSource{version: obj.version, header: obj.header, body: obj.body}, nil
}

// SaveObj implements evfs.Storage. It drains sub fully before committing:
// the first chunk Subscribe yields is always the object's plaintext frame
// header (every Subscribe implementation in this module sends it first and
// whole), every chunk after that is encrypted segment bytes to append.
//
// newVersion must be exactly one past the version Store currently holds for
// id (0 for a never-seen id), matching nodeCore.doChange's own
// cur-version-plus-one accounting; a mismatch means some other writer
// committed since the caller's change lock computed newVersion, reported as
// ErrConcurrentUpdate rather than silently overwriting.
func (s *Store) SaveObj(ctx context.Context, id evfs.ObjectID, newVersion evfs.Version, sub evfs.Subscribe) error {
	header, err := sub.Next(ctx)
	if err != nil {
		return evfs.ErrIO(string(id), err)
	}
	var body bytes.Buffer
	for {
		chunk, err := sub.Next(ctx)
		if len(chunk) > 0 {
			body.Write(chunk)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return evfs.ErrIO(string(id), err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var curVersion evfs.Version
	if existing, ok := s.objects[id]; ok {
		curVersion = existing.version
	}
	if newVersion.Known() && curVersion.Known() && newVersion != curVersion+1 {
		return evfs.ErrConcurrentUpdate(string(id))
	}
	s.objects[id] = &object{version: newVersion, header: header, body: body.Bytes()}
	return nil
}

// NodeEvents implements evfs.Storage.
func (s *Store) NodeEvents(ctx context.Context) (<-chan evfs.NodeEvent, error) {
	return s.events.subscribe(ctx), nil
}

// PublishNodeEvent implements evfs.Storage, fanning ev out to every active
// NodeEvents subscriber.
func (s *Store) PublishNodeEvent(ctx context.Context, ev evfs.NodeEvent) error {
	s.events.publish(ev)
	return nil
}

// objSource is the evfs.ObjSource this package hands back from GetObj: a
// fixed, already-fetched snapshot, since Store never needs to stream a
// retrieval lazily.
type objSource struct {
	version evfs.Version
	header  []byte
	body    []byte
}

func (o *objSource) Version() evfs.Version { return o.version }

func (o *objSource) ReadHeader(ctx context.Context) ([]byte, error) {
	return o.header, nil
}

func (o *objSource) SegmentBytes(ctx context.Context) (io.Reader, error) {
	return bytes.NewReader(o.body), nil
}
