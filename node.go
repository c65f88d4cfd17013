package evfs

import (
	"context"
	"sync"
)

// changeLock is the per-node exclusive writer lock every mutation goes
// through. Go's sync.Mutex queues waiters FIFO-ish (the runtime does not
// guarantee strict FIFO, but never starves a waiter), which is the
// ordering guarantee do_change relies on.
type changeLock struct {
	mu sync.Mutex
}

// withLock runs fn while holding the lock, releasing it once fn returns
// regardless of outcome. fn must not call back into the same node's
// do_change/withLock on the same goroutine; that deadlocks by design (spec:
// "nested re-acquisition deadlocks are a bug").
func (l *changeLock) withLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// nodeCore is the state common to every node kind: identity, live
// attributes, and the change lock serializing writers. FileNode, FolderNode,
// and SymLink all embed it.
type nodeCore struct {
	objID    ObjectID
	parentID *ObjectID // nil for the root and for materialized links
	name     string
	kind     NodeKind
	key      []byte
	storage  Storage
	persist  *nodePersistence
	clock    Clock

	lock changeLock

	mu      sync.RWMutex // guards the fields below against concurrent readers
	version Version
	attrs   attrState
}

func newNodeCore(objID ObjectID, parentID *ObjectID, name string, kind NodeKind, key []byte, storage Storage, persist *nodePersistence, clock Clock) *nodeCore {
	return &nodeCore{
		objID:    objID,
		parentID: parentID,
		name:     name,
		kind:     kind,
		key:      key,
		storage:  storage,
		persist:  persist,
		clock:    clock,
	}
}

// ObjID returns the node's immutable object identifier.
func (n *nodeCore) ObjID() ObjectID { return n.objID }

// Name returns the node's current name as last observed from its parent.
func (n *nodeCore) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// setName updates the cached name. No code in this package calls it.
func (n *nodeCore) setName(name string) {
	n.mu.Lock()
	n.name = name
	n.mu.Unlock()
}

// Kind returns the node's immutable kind.
func (n *nodeCore) Kind() NodeKind { return n.kind }

// Version returns the live, committed version.
func (n *nodeCore) Version() Version {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.version
}

// Attrs returns a snapshot of the committed common attributes.
func (n *nodeCore) Attrs() CommonAttrs {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attrs.common
}

// GetXAttr returns a committed extended attribute.
func (n *nodeCore) GetXAttr(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attrs.GetXAttr(name)
}

// ListXAttrs returns a snapshot of every committed extended attribute.
func (n *nodeCore) ListXAttrs() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attrs.ListXAttrs()
}

// changeParams is what getParamsForUpdate computes ahead of a write: the
// state a successful commit will publish.
type changeParams struct {
	newVersion Version
	attrs      attrState
}

// getParamsForUpdate computes the next version and the attrs a pending
// write will commit, without mutating live state. Until setUpdated is
// called, Version/Attrs/ListXAttrs keep returning the prior committed
// values.
func (n *nodeCore) getParamsForUpdate(changes *XAttrChanges) changeParams {
	n.mu.RLock()
	cur := n.version
	attrs := n.attrs
	n.mu.RUnlock()

	next := attrs
	if changes != nil && !changes.IsEmpty() {
		next = attrs.withXAttrChanges(*changes)
	} else {
		next = attrs.clone()
	}
	next.common.Mtime = nowMillis(n.clock)

	return changeParams{newVersion: cur + 1, attrs: next}
}

// setUpdated commits a new version into the node's live state. Callers
// publish a change event themselves once storage has durably accepted the
// write; setUpdated only updates in-memory state.
func (n *nodeCore) setUpdated(version Version, attrs attrState) {
	n.mu.Lock()
	n.version = version
	n.attrs = attrs
	n.mu.Unlock()
}

// doChange runs fn under the node's exclusive change lock. fn receives the
// computed change parameters and is responsible for persisting them and
// returning the committed (version, attrs) to publish, or an error to
// abandon the change (live state is left untouched on error).
func (n *nodeCore) doChange(ctx context.Context, xattrChanges *XAttrChanges, fn func(ctx context.Context, p changeParams) (Version, attrState, error)) error {
	return n.lock.withLock(func() error {
		params := n.getParamsForUpdate(xattrChanges)
		version, attrs, err := fn(ctx, params)
		if err != nil {
			return err
		}
		n.setUpdated(version, attrs)
		return nil
	})
}
