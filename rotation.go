package evfs

import "context"

// RootKeyProvider supplies the key material a VFS root is opened with
// across a key-rotation window: Current is used for new filesystems and is
// the first key tried on open; Previous keys are tried, in order, only to
// decrypt an existing root payload that has not yet been re-keyed with
// RotateRootKey. Grounded on the teacher's MultiKeyProvider, which tries an
// ordered list of key providers for decryption while always encrypting new
// data under the primary one.
type RootKeyProvider struct {
	current  []byte
	previous [][]byte
}

// NewRootKeyProvider builds a provider. previous may be empty for a
// filesystem that has never been rotated.
func NewRootKeyProvider(current []byte, previous ...[]byte) (*RootKeyProvider, error) {
	if len(current) == 0 {
		return nil, errBadArg("rotation: current root key is required")
	}
	return &RootKeyProvider{current: current, previous: previous}, nil
}

// Current returns the key a store with no root object yet is initialized
// under. RotateRootKey does not consult it.
func (p *RootKeyProvider) Current() []byte { return p.current }

// candidates returns Current followed by every Previous key, the order
// openOrCreateRootFolderWithKeys tries them in.
func (p *RootKeyProvider) candidates() [][]byte {
	out := make([][]byte, 0, 1+len(p.previous))
	out = append(out, p.current)
	out = append(out, p.previous...)
	return out
}

// openOrCreateRootFolderWithKeys is the read-side counterpart of
// RotateRootKey: it tries provider's candidate keys in turn against the
// existing root payload, so a caller mid-rotation can still open the
// filesystem under its old key until it calls RotateRootKey. A store with
// no root object yet is initialized fresh under provider.Current().
func openOrCreateRootFolderWithKeys(ctx context.Context, storage Storage, persist *nodePersistence, clock Clock, idGen IDGenerator, provider *RootKeyProvider) (*FolderNode, error) {
	if _, err := storage.GetObj(ctx, RootObjectID); err != nil {
		if IsNotFound(err) {
			return createRootFolder(ctx, storage, persist, clock, idGen, provider.Current())
		}
		return nil, ErrIO(string(RootObjectID), err)
	}

	var lastErr error
	for _, key := range provider.candidates() {
		obj, err := storage.GetObj(ctx, RootObjectID)
		if err != nil {
			return nil, ErrIO(string(RootObjectID), err)
		}
		payload, err := persist.ReadPayload(ctx, key, RootObjectID, obj)
		if err != nil {
			lastErr = err
			continue
		}
		core := newNodeCore(RootObjectID, nil, "/", KindFolder, key, storage, persist, clock)
		return loadFolderNode(core, payload, idGen)
	}
	return nil, lastErr
}

// setKey swaps a node's live decryption key. Callers must hold the node's
// change lock (i.e. call this from inside a doChange callback) so
// concurrent payload writes never observe a torn key.
func (n *nodeCore) setKey(key []byte) {
	n.mu.Lock()
	n.key = key
	n.mu.Unlock()
}

// RotateRootKey re-encrypts the root folder's own payload under newKey (a
// fresh random key if newKey is nil), completing a root-key rotation window
// opened by configuring VFSRoot with a RootKeyProvider. Child keys are
// never touched: a folder payload carries each child's own key, not its
// own, so rewriting the root payload under a new key leaves every child's
// key and object as they were.
func (v *VFSRoot) RotateRootKey(ctx context.Context, newKey []byte) error {
	if err := v.checkOpen("/"); err != nil {
		return err
	}
	if len(newKey) == 0 {
		newKey = randomKey(nodeKeySize)
	}
	root := v.root
	return root.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		children := root.cloneChildrenLocked()
		meta := folderMeta{Attrs: p.attrs.common, XAttrs: p.attrs.xattrs, Children: children}
		raw, err := encodeMeta(meta)
		if err != nil {
			return 0, attrState{}, err
		}
		sub, err := root.core.persist.WriteWhole(ctx, newKey, RootObjectID, raw, nil)
		if err != nil {
			return 0, attrState{}, err
		}
		if err := root.core.storage.SaveObj(ctx, RootObjectID, p.newVersion, sub); err != nil {
			return 0, attrState{}, ErrIO(string(RootObjectID), err)
		}
		root.core.setKey(newKey)
		return p.newVersion, p.attrs, nil
	})
}

// RotateChildKey re-encrypts the named child under a freshly generated key
// and installs it into this folder's child table, leaving the child's
// objId and kind untouched. Works uniformly across file, folder, and link
// children since it operates on the raw (meta, content) payload rather than
// the child's parsed-open form.
func (fn *FolderNode) RotateChildKey(ctx context.Context, name string) error {
	fn.mu.RLock()
	entry, exists := fn.children[name]
	fn.mu.RUnlock()
	if !exists {
		return ErrNotFound(name)
	}

	oldKey, err := decodeKey(entry.Key)
	if err != nil {
		return err
	}
	obj, err := fn.core.storage.GetObj(ctx, entry.ObjID)
	if err != nil {
		return ErrIO(name, err)
	}
	payload, err := fn.core.persist.ReadPayload(ctx, oldKey, entry.ObjID, obj)
	if err != nil {
		return err
	}
	content, err := readAllContent(ctx, payload.Content)
	if err != nil {
		return ErrIO(name, err)
	}
	newKey := randomKey(nodeKeySize)

	return fn.core.doChange(ctx, nil, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		sub, err := fn.core.persist.WriteWhole(ctx, newKey, entry.ObjID, payload.Meta, content)
		if err != nil {
			return 0, attrState{}, err
		}
		if err := fn.core.storage.SaveObj(ctx, entry.ObjID, payload.Version+1, sub); err != nil {
			return 0, attrState{}, ErrIO(name, err)
		}

		newChildren := fn.cloneChildrenLocked()
		rekeyed := newChildren[name]
		rekeyed.Key = encodeKey(newKey)
		newChildren[name] = rekeyed
		if err := fn.persistChildren(ctx, p, newChildren); err != nil {
			return 0, attrState{}, err
		}
		fn.mu.Lock()
		fn.children = newChildren
		fn.mu.Unlock()

		return p.newVersion, p.attrs, nil
	})
}

// readAllContent drains a ByteSource into memory, or returns nil for a node
// kind that has none (folders, links).
func readAllContent(ctx context.Context, src ByteSource) ([]byte, error) {
	if src == nil {
		return nil, nil
	}
	size := src.Size()
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := src.ReadAt(ctx, buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// RotateKey re-encrypts the node at path under a freshly generated key, or
// the root itself when path resolves to "/".
func (v *VFSRoot) RotateKey(ctx context.Context, path string) error {
	if err := v.checkOpen(path); err != nil {
		return err
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return v.RotateRootKey(ctx, nil)
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return err
	}
	return asVFSErr(parent.RotateChildKey(ctx, name), path)
}
