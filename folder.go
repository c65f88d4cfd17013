package evfs

import (
	"context"
	"sync"
)

// childEntry is one row of a folder's child table: the child's own object
// id, its own symmetric key (base64 in the wire format), and its kind.
//
// Each entry carries the CHILD's own key, never the parent's — this is the
// one place the reference implementation this library was modeled after is
// known to have shipped a bug (base64-encoding the parent's key into every
// child entry instead of each child's own). That bug is not reproduced
// here; see TestInvariantSubtreeKeyContainment.
type childEntry struct {
	ObjID ObjectID `json:"objId"`
	Key   string   `json:"key"`
	Kind  NodeKind `json:"kind"`
}

// folderMeta is the JSON meta segment a folder node's object persists.
type folderMeta struct {
	Attrs    CommonAttrs           `json:"attrs"`
	XAttrs   map[string]any        `json:"xattrs,omitempty"`
	Children map[string]childEntry `json:"children"`
}

// FolderNode holds an in-memory child name table plus an observable event
// stream. All mutations go through nodeCore.doChange (single folder) or the
// two-lock protocol in MoveChildTo (cross-folder).
type FolderNode struct {
	core  *nodeCore
	bc    *localBroadcaster
	idGen IDGenerator

	mu       sync.RWMutex
	children map[string]childEntry
}

func newFolderNode(core *nodeCore, idGen IDGenerator) *FolderNode {
	return &FolderNode{core: core, bc: newLocalBroadcaster(), idGen: idGen, children: map[string]childEntry{}}
}

// loadFolderNode hydrates a FolderNode from a decrypted payload.
func loadFolderNode(core *nodeCore, payload *Payload, idGen IDGenerator) (*FolderNode, error) {
	var meta folderMeta
	if err := decodeMeta(payload.Meta, &meta); err != nil {
		return nil, err
	}
	if meta.Children == nil {
		meta.Children = map[string]childEntry{}
	}
	core.setUpdated(payload.Version, attrState{common: meta.Attrs, xattrs: meta.XAttrs})
	fn := newFolderNode(core, idGen)
	fn.children = meta.Children
	return fn, nil
}

// ObjID returns the folder's object id.
func (fn *FolderNode) ObjID() ObjectID { return fn.core.ObjID() }

// Version returns the live committed version.
func (fn *FolderNode) Version() Version { return fn.core.Version() }

func (fn *FolderNode) cloneChildrenLocked() map[string]childEntry {
	fn.mu.RLock()
	defer fn.mu.RUnlock()
	out := make(map[string]childEntry, len(fn.children))
	for k, v := range fn.children {
		out[k] = v
	}
	return out
}

func (fn *FolderNode) childCount() int {
	fn.mu.RLock()
	defer fn.mu.RUnlock()
	return len(fn.children)
}

// persistChildren encodes and saves children as the folder's new payload
// under the already-computed change params p. It does not touch fn's live
// state; callers swap fn.children in after this succeeds.
func (fn *FolderNode) persistChildren(ctx context.Context, p changeParams, children map[string]childEntry) error {
	meta := folderMeta{Attrs: p.attrs.common, XAttrs: p.attrs.xattrs, Children: children}
	raw, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	sub, err := fn.core.persist.WriteWhole(ctx, fn.core.key, fn.core.objID, raw, nil)
	if err != nil {
		return err
	}
	if err := fn.core.storage.SaveObj(ctx, fn.core.objID, p.newVersion, sub); err != nil {
		return ErrIO(string(fn.core.objID), err)
	}
	return nil
}

// List returns a snapshot of {name, kind} entries plus the current version.
func (fn *FolderNode) List() ([]DirEntry, Version) {
	fn.mu.RLock()
	defer fn.mu.RUnlock()
	entries := make([]DirEntry, 0, len(fn.children))
	for name, e := range fn.children {
		entries = append(entries, DirEntry{Name: name, Kind: e.Kind})
	}
	return entries, fn.core.Version()
}

// Watch subscribes to this folder's own child-table events.
func (fn *FolderNode) Watch() (<-chan StoreEvent, func()) {
	return fn.bc.subscribe()
}

// publish fans ev out to this folder's direct watch_folder subscribers and
// to the store's low-level NodeEvents feed, the path watch_tree replays
// through eventRouter. The store-level publish is best-effort: the child
// table mutation ev describes has already committed by the time publish is
// called, so a delivery failure here must never unwind it.
func (fn *FolderNode) publish(ctx context.Context, ev StoreEvent) {
	fn.bc.publish(ev)
	_ = fn.core.storage.PublishNodeEvent(ctx, NodeEvent{ObjID: fn.core.objID, Event: ev})
}

// loadChildFolder fetches and decrypts entry as a FolderNode named name,
// parented at fn.
func (fn *FolderNode) loadChildFolder(ctx context.Context, name string, entry childEntry) (*FolderNode, error) {
	key, err := decodeKey(entry.Key)
	if err != nil {
		return nil, err
	}
	obj, err := fn.core.storage.GetObj(ctx, entry.ObjID)
	if err != nil {
		return nil, ErrIO(name, err)
	}
	payload, err := fn.core.persist.ReadPayload(ctx, key, entry.ObjID, obj)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(entry.ObjID, &fn.core.objID, name, KindFolder, key, fn.core.storage, fn.core.persist, fn.core.clock)
	return loadFolderNode(core, payload, fn.idGen)
}

// loadChildFile fetches and decrypts entry as a FileNode named name.
func (fn *FolderNode) loadChildFile(ctx context.Context, name string, entry childEntry) (*FileNode, error) {
	key, err := decodeKey(entry.Key)
	if err != nil {
		return nil, err
	}
	obj, err := fn.core.storage.GetObj(ctx, entry.ObjID)
	if err != nil {
		return nil, ErrIO(name, err)
	}
	payload, err := fn.core.persist.ReadPayload(ctx, key, entry.ObjID, obj)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(entry.ObjID, &fn.core.objID, name, KindFile, key, fn.core.storage, fn.core.persist, fn.core.clock)
	return loadFileNode(core, payload)
}

// loadChildLink fetches and decrypts entry as a SymLink named name.
func (fn *FolderNode) loadChildLink(ctx context.Context, name string, entry childEntry) (*SymLink, error) {
	key, err := decodeKey(entry.Key)
	if err != nil {
		return nil, err
	}
	obj, err := fn.core.storage.GetObj(ctx, entry.ObjID)
	if err != nil {
		return nil, ErrIO(name, err)
	}
	payload, err := fn.core.persist.ReadPayload(ctx, key, entry.ObjID, obj)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(entry.ObjID, &fn.core.objID, name, KindLink, key, fn.core.storage, fn.core.persist, fn.core.clock)
	return loadSymLink(core, payload)
}

// GetFile returns the named file child. If nullOnMissing and the name is
// absent, returns (nil, nil) instead of ENOENT.
func (fn *FolderNode) GetFile(ctx context.Context, name string, nullOnMissing bool) (*FileNode, error) {
	fn.mu.RLock()
	entry, exists := fn.children[name]
	fn.mu.RUnlock()
	if !exists {
		if nullOnMissing {
			return nil, nil
		}
		return nil, ErrNotFound(name)
	}
	if entry.Kind != KindFile {
		return nil, ErrNotFile(name)
	}
	return fn.loadChildFile(ctx, name, entry)
}

// GetLink returns the named link child.
func (fn *FolderNode) GetLink(ctx context.Context, name string) (*SymLink, error) {
	fn.mu.RLock()
	entry, exists := fn.children[name]
	fn.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound(name)
	}
	if entry.Kind != KindLink {
		return nil, ErrNotLink(name)
	}
	return fn.loadChildLink(ctx, name, entry)
}

// GetNode returns the named child regardless of kind.
func (fn *FolderNode) GetNode(ctx context.Context, name string) (NodeKind, any, error) {
	fn.mu.RLock()
	entry, exists := fn.children[name]
	fn.mu.RUnlock()
	if !exists {
		return 0, nil, ErrNotFound(name)
	}
	switch entry.Kind {
	case KindFile:
		n, err := fn.loadChildFile(ctx, name, entry)
		return KindFile, n, err
	case KindFolder:
		n, err := fn.loadChildFolder(ctx, name, entry)
		return KindFolder, n, err
	case KindLink:
		n, err := fn.loadChildLink(ctx, name, entry)
		return KindLink, n, err
	default:
		return 0, nil, errBadArg("unknown child kind")
	}
}

// GetFolderInSubTree walks parts from fn. An empty parts returns fn itself.
// create/exclusive govern missing-segment behavior per spec §4.E.
func (fn *FolderNode) GetFolderInSubTree(ctx context.Context, parts []string, create, exclusive bool) (*FolderNode, error) {
	if len(parts) == 0 {
		return fn, nil
	}
	head, rest := parts[0], parts[1:]
	isLeaf := len(rest) == 0

	fn.mu.RLock()
	entry, exists := fn.children[head]
	fn.mu.RUnlock()

	if !exists {
		if !create {
			return nil, ErrNotFound(head)
		}
		child, err := fn.createSubFolder(ctx, head)
		if err != nil {
			return nil, err
		}
		if isLeaf {
			return child, nil
		}
		return child.GetFolderInSubTree(ctx, rest, create, exclusive)
	}

	if entry.Kind != KindFolder {
		return nil, ErrNotDir(head)
	}
	if isLeaf && create && exclusive {
		return nil, ErrAlreadyExists(head)
	}
	child, err := fn.loadChildFolder(ctx, head, entry)
	if err != nil {
		return nil, err
	}
	return child.GetFolderInSubTree(ctx, rest, create, exclusive)
}

// createSubFolder creates and installs a brand-new, empty child folder.
func (fn *FolderNode) createSubFolder(ctx context.Context, name string) (*FolderNode, error) {
	var created *FolderNode
	err := fn.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		fn.mu.RLock()
		_, exists := fn.children[name]
		fn.mu.RUnlock()
		if exists {
			return 0, attrState{}, ErrAlreadyExists(name)
		}

		objID, err := fn.core.storage.GenerateNewObjID(ctx)
		if err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}
		key := randomKey(nodeKeySize)
		now := nowMillis(fn.core.clock)
		initAttrs := CommonAttrs{Ctime: now, Mtime: now}

		raw, err := encodeMeta(folderMeta{Attrs: initAttrs, Children: map[string]childEntry{}})
		if err != nil {
			return 0, attrState{}, err
		}
		sub, err := fn.core.persist.WriteWhole(ctx, key, objID, raw, nil)
		if err != nil {
			return 0, attrState{}, err
		}
		if err := fn.core.storage.SaveObj(ctx, objID, 1, sub); err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}

		newChildren := fn.cloneChildrenLocked()
		newChildren[name] = childEntry{ObjID: objID, Key: encodeKey(key), Kind: KindFolder}
		if err := fn.persistChildren(ctx, p, newChildren); err != nil {
			return 0, attrState{}, err
		}
		fn.mu.Lock()
		fn.children = newChildren
		fn.mu.Unlock()

		childCore := newNodeCore(objID, &fn.core.objID, name, KindFolder, key, fn.core.storage, fn.core.persist, fn.core.clock)
		childCore.setUpdated(1, attrState{common: initAttrs})
		created = newFolderNode(childCore, fn.idGen)

		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return nil, err
	}
	fn.publish(ctx, StoreEvent{Kind: EvEntryAddition, Name: name})
	return created, nil
}

// CreateFile allocates a new file node and installs it under name.
// It fails with already-exists if name is already taken, whether exclusive
// is true or false; it never opens an existing file.
func (fn *FolderNode) CreateFile(ctx context.Context, name string, exclusive bool) (*FileNode, error) {
	if err := validateChildName(name); err != nil {
		return nil, err
	}

	var created *FileNode
	err := fn.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		fn.mu.RLock()
		_, exists := fn.children[name]
		fn.mu.RUnlock()
		if exists {
			if exclusive {
				return 0, attrState{}, ErrAlreadyExists(name)
			}
			return 0, attrState{}, ErrAlreadyExists(name)
		}

		objID, err := fn.core.storage.GenerateNewObjID(ctx)
		if err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}
		key := randomKey(nodeKeySize)
		now := nowMillis(fn.core.clock)
		initAttrs := CommonAttrs{Ctime: now, Mtime: now}

		raw, err := encodeMeta(fileMeta{Attrs: initAttrs})
		if err != nil {
			return 0, attrState{}, err
		}
		sub, err := fn.core.persist.WriteWhole(ctx, key, objID, raw, nil)
		if err != nil {
			return 0, attrState{}, err
		}
		if err := fn.core.storage.SaveObj(ctx, objID, 1, sub); err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}

		newChildren := fn.cloneChildrenLocked()
		newChildren[name] = childEntry{ObjID: objID, Key: encodeKey(key), Kind: KindFile}
		if err := fn.persistChildren(ctx, p, newChildren); err != nil {
			return 0, attrState{}, err
		}
		fn.mu.Lock()
		fn.children = newChildren
		fn.mu.Unlock()

		childCore := newNodeCore(objID, &fn.core.objID, name, KindFile, key, fn.core.storage, fn.core.persist, fn.core.clock)
		childCore.setUpdated(1, attrState{common: initAttrs})
		created = newFileNode(childCore)

		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return nil, err
	}
	fn.publish(ctx, StoreEvent{Kind: EvEntryAddition, Name: name})
	return created, nil
}

// CreateLink installs a link entry whose payload is the serialized
// LinkParameters. Fails with the plain invariant error from
// errLinkIncompatibleStorage if this folder's storage cannot link to
// params.StorageType.
func (fn *FolderNode) CreateLink(ctx context.Context, name string, params LinkParameters) error {
	if err := validateChildName(name); err != nil {
		return err
	}
	if !fn.core.storage.Type().CanLinkTo(params.StorageType) {
		return errLinkIncompatibleStorage(fn.core.storage.Type(), params.StorageType)
	}

	err := fn.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		fn.mu.RLock()
		_, exists := fn.children[name]
		fn.mu.RUnlock()
		if exists {
			return 0, attrState{}, ErrAlreadyExists(name)
		}

		objID, err := fn.core.storage.GenerateNewObjID(ctx)
		if err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}
		key := randomKey(nodeKeySize)
		now := nowMillis(fn.core.clock)

		sub, err := persistLinkNode(ctx, fn.core.persist, key, objID, params, now)
		if err != nil {
			return 0, attrState{}, err
		}
		if err := fn.core.storage.SaveObj(ctx, objID, 1, sub); err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}

		newChildren := fn.cloneChildrenLocked()
		newChildren[name] = childEntry{ObjID: objID, Key: encodeKey(key), Kind: KindLink}
		if err := fn.persistChildren(ctx, p, newChildren); err != nil {
			return 0, attrState{}, err
		}
		fn.mu.Lock()
		fn.children = newChildren
		fn.mu.Unlock()

		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return err
	}
	fn.publish(ctx, StoreEvent{Kind: EvEntryAddition, Name: name})
	return nil
}

// RemoveChild removes name from this folder. Fails with not-empty if name
// is a non-empty folder and recursive is false.
func (fn *FolderNode) RemoveChild(ctx context.Context, name string, recursive bool) error {
	return fn.removeChildLabeled(ctx, name, recursive, "")
}

func (fn *FolderNode) removeChildLabeled(ctx context.Context, name string, recursive bool, moveLabel string) error {
	err := fn.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		fn.mu.RLock()
		entry, exists := fn.children[name]
		fn.mu.RUnlock()
		if !exists {
			return 0, attrState{}, ErrNotFound(name)
		}
		if entry.Kind == KindFolder && !recursive {
			child, err := fn.loadChildFolder(ctx, name, entry)
			if err != nil {
				return 0, attrState{}, err
			}
			if child.childCount() > 0 {
				return 0, attrState{}, ErrNotEmpty(name)
			}
		}

		newChildren := fn.cloneChildrenLocked()
		delete(newChildren, name)
		if err := fn.persistChildren(ctx, p, newChildren); err != nil {
			return 0, attrState{}, err
		}
		fn.mu.Lock()
		fn.children = newChildren
		fn.mu.Unlock()

		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return err
	}
	fn.publish(ctx, StoreEvent{Kind: EvEntryRemoval, Name: name, MoveLabel: moveLabel})
	return nil
}

// renameWithinSelf handles the same-folder half of MoveChildTo, emitting
// entry-renaming instead of a removal/addition pair.
func (fn *FolderNode) renameWithinSelf(ctx context.Context, oldName, newName string) error {
	if err := validateChildName(newName); err != nil {
		return err
	}
	err := fn.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		fn.mu.RLock()
		entry, exists := fn.children[oldName]
		_, clash := fn.children[newName]
		fn.mu.RUnlock()
		if !exists {
			return 0, attrState{}, ErrNotFound(oldName)
		}
		if clash {
			return 0, attrState{}, ErrAlreadyExists(newName)
		}

		newChildren := fn.cloneChildrenLocked()
		delete(newChildren, oldName)
		newChildren[newName] = entry
		if err := fn.persistChildren(ctx, p, newChildren); err != nil {
			return 0, attrState{}, err
		}
		fn.mu.Lock()
		fn.children = newChildren
		fn.mu.Unlock()

		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return err
	}
	fn.publish(ctx, StoreEvent{Kind: EvEntryRenaming, OldName: oldName, NewName: newName})
	return nil
}

// lockBothInOrder acquires a's and b's change locks in ObjectID order
// (lower first), the only compound lock in the system, and returns the
// unlock function.
func lockBothInOrder(a, b *nodeCore) func() {
	first, second := a, b
	if b.objID < a.objID {
		first, second = b, a
	}
	first.lock.mu.Lock()
	second.lock.mu.Lock()
	return func() {
		second.lock.mu.Unlock()
		first.lock.mu.Unlock()
	}
}

// MoveChildTo moves oldName from fn to newName in dst, preserving the
// child's objId and key. Same-folder moves (fn == dst) are renames.
// Cross-folder moves acquire both folders' locks in objId order and emit a
// moveLabel-correlated entry-removal/entry-addition pair.
func (fn *FolderNode) MoveChildTo(ctx context.Context, oldName string, dst *FolderNode, newName string) error {
	if err := validateChildName(newName); err != nil {
		return err
	}
	if fn.core.objID == dst.core.objID {
		return fn.renameWithinSelf(ctx, oldName, newName)
	}

	unlock := lockBothInOrder(fn.core, dst.core)
	defer unlock()

	fn.mu.RLock()
	entry, ok := fn.children[oldName]
	fn.mu.RUnlock()
	if !ok {
		return ErrNotFound(oldName)
	}

	dst.mu.RLock()
	_, clash := dst.children[newName]
	dst.mu.RUnlock()
	if clash {
		return ErrAlreadyExists(newName)
	}

	moveLabel := fn.idGen.New()

	srcParams := fn.core.getParamsForUpdate(nil)
	srcChildren := fn.cloneChildrenLocked()
	delete(srcChildren, oldName)
	if err := fn.persistChildren(ctx, srcParams, srcChildren); err != nil {
		return err
	}

	dstParams := dst.core.getParamsForUpdate(nil)
	dstChildren := dst.cloneChildrenLocked()
	dstChildren[newName] = entry
	if err := dst.persistChildren(ctx, dstParams, dstChildren); err != nil {
		return err
	}

	fn.mu.Lock()
	fn.children = srcChildren
	fn.mu.Unlock()
	fn.core.setUpdated(srcParams.newVersion, srcParams.attrs)

	dst.mu.Lock()
	dst.children = dstChildren
	dst.mu.Unlock()
	dst.core.setUpdated(dstParams.newVersion, dstParams.attrs)

	fn.publish(ctx, StoreEvent{Kind: EvEntryRemoval, Name: oldName, MoveLabel: moveLabel})
	dst.publish(ctx, StoreEvent{Kind: EvEntryAddition, Name: newName, MoveLabel: moveLabel})
	return nil
}

// GetLinkParams returns the link parameters describing this folder as a
// link target.
func (fn *FolderNode) GetLinkParams() (LinkParameters, error) {
	return buildFolderLinkParams(fn.core.storage.Type(), fn.core.Name(), fn.core.objID, fn.core.key)
}

// GetXAttr returns a committed extended attribute.
func (fn *FolderNode) GetXAttr(name string) (any, bool) { return fn.core.GetXAttr(name) }

// ListXAttrs returns a snapshot of every committed extended attribute.
func (fn *FolderNode) ListXAttrs() map[string]any { return fn.core.ListXAttrs() }

// UpdateXAttrs applies changes to this folder's extended attributes without
// touching its child table.
func (fn *FolderNode) UpdateXAttrs(ctx context.Context, changes XAttrChanges) (Version, error) {
	var newVersion Version
	err := fn.core.doChange(ctx, &changes, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		if err := fn.persistChildren(ctx, p, fn.cloneChildrenLocked()); err != nil {
			return 0, attrState{}, err
		}
		newVersion = p.newVersion
		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return 0, err
	}
	fn.publish(ctx, StoreEvent{Kind: EvAttrChange, Name: fn.core.Name()})
	return newVersion, nil
}

// openOrCreateRootFolder loads the VFS root folder, creating a fresh empty
// one under rootKey if the store has none yet.
func openOrCreateRootFolder(ctx context.Context, storage Storage, persist *nodePersistence, clock Clock, idGen IDGenerator, rootKey []byte) (*FolderNode, error) {
	obj, err := storage.GetObj(ctx, RootObjectID)
	if err != nil {
		if IsNotFound(err) {
			return createRootFolder(ctx, storage, persist, clock, idGen, rootKey)
		}
		return nil, ErrIO(string(RootObjectID), err)
	}
	payload, err := persist.ReadPayload(ctx, rootKey, RootObjectID, obj)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(RootObjectID, nil, "/", KindFolder, rootKey, storage, persist, clock)
	return loadFolderNode(core, payload, idGen)
}

func createRootFolder(ctx context.Context, storage Storage, persist *nodePersistence, clock Clock, idGen IDGenerator, rootKey []byte) (*FolderNode, error) {
	now := nowMillis(clock)
	initAttrs := CommonAttrs{Ctime: now, Mtime: now}
	raw, err := encodeMeta(folderMeta{Attrs: initAttrs, Children: map[string]childEntry{}})
	if err != nil {
		return nil, err
	}
	sub, err := persist.WriteWhole(ctx, rootKey, RootObjectID, raw, nil)
	if err != nil {
		return nil, err
	}
	if err := storage.SaveObj(ctx, RootObjectID, 1, sub); err != nil {
		return nil, ErrIO(string(RootObjectID), err)
	}
	core := newNodeCore(RootObjectID, nil, "/", KindFolder, rootKey, storage, persist, clock)
	core.setUpdated(1, attrState{common: initAttrs})
	return newFolderNode(core, idGen), nil
}
