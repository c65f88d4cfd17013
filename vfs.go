package evfs

import (
	"context"
	"encoding/json"
	"sync"
)

// VFSRoot is the application-facing entry point: one root FolderNode plus a
// reference to Storage, path parsing, and lifecycle. A "." / ".." segment
// is never resolved here — callers are expected to canonicalize paths
// before calling in.
type VFSRoot struct {
	storage Storage
	persist *nodePersistence
	clock   Clock
	idGen   IDGenerator

	root *FolderNode

	mu     sync.RWMutex
	closed bool
	closeC chan struct{}
}

// Config gathers the construction-time dependencies of a VFSRoot, the
// evfs analog of the small options struct the teacher's constructors take.
type Config struct {
	Storage    Storage
	MasterSalt []byte
	CipherID   uint8
	Clock      Clock
	IDGen      IDGenerator
	RootKey    []byte

	// RootKeys, when set, takes precedence over RootKey: the root folder
	// is opened by trying each of its candidate keys in turn, the read-side
	// half of a root-key rotation (see rotation.go). New filesystems are
	// always created under RootKeys.Current().
	RootKeys *RootKeyProvider
}

// Validate fills in defaults and rejects a Config that cannot construct a
// working VFSRoot.
func (c *Config) Validate() error {
	if c.Storage == nil {
		return errBadArg("config: storage is required")
	}
	if len(c.MasterSalt) == 0 {
		return errBadArg("config: masterSalt is required")
	}
	if c.RootKeys == nil && len(c.RootKey) == 0 {
		return errBadArg("config: rootKey is required")
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
	if c.IDGen == nil {
		c.IDGen = UUIDGenerator{}
	}
	return nil
}

// Open mounts a VFSRoot over cfg.Storage, creating a fresh root folder
// under cfg.RootKey (or cfg.RootKeys.Current()) if the store has none yet.
func Open(ctx context.Context, cfg Config) (*VFSRoot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	persist := newNodePersistence(cfg.Storage.Cryptor(), cfg.MasterSalt, cfg.CipherID)
	var root *FolderNode
	var err error
	if cfg.RootKeys != nil {
		root, err = openOrCreateRootFolderWithKeys(ctx, cfg.Storage, persist, cfg.Clock, cfg.IDGen, cfg.RootKeys)
	} else {
		root, err = openOrCreateRootFolder(ctx, cfg.Storage, persist, cfg.Clock, cfg.IDGen, cfg.RootKey)
	}
	if err != nil {
		return nil, err
	}
	return &VFSRoot{
		storage: cfg.Storage,
		persist: persist,
		clock:   cfg.Clock,
		idGen:   cfg.IDGen,
		root:    root,
		closeC:  make(chan struct{}),
	}, nil
}

// checkOpen returns storage-closed with path if the VFS has been closed.
func (v *VFSRoot) checkOpen(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrStorageClosed(path)
	}
	return nil
}

// Close cancels all outstanding watch subscriptions and marks the VFS
// closed; every subsequent operation fails with storage-closed. Does NOT
// close the underlying Storage. A second Close is a no-op.
func (v *VFSRoot) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	close(v.closeC)
	return nil
}

func (v *VFSRoot) resolveParent(ctx context.Context, path string, create bool) (*FolderNode, string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	if len(segs) == 0 {
		return nil, "", ErrNotFound(path)
	}
	parent, err := v.root.GetFolderInSubTree(ctx, segs[:len(segs)-1], create, false)
	if err != nil {
		return nil, "", asVFSErr(err, path)
	}
	return parent, segs[len(segs)-1], nil
}

func asVFSErr(err error, path string) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*VFSError); ok {
		return ve.WithPath(path)
	}
	return err
}

// MakeFolder creates the folder named by path, creating intermediate
// folders along the way. exclusive governs leaf-already-exists behavior.
func (v *VFSRoot) MakeFolder(ctx context.Context, path string, exclusive bool) error {
	if err := v.checkOpen(path); err != nil {
		return err
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	_, err = v.root.GetFolderInSubTree(ctx, segs, true, exclusive)
	return asVFSErr(err, path)
}

// DeleteFolder removes the folder at path. removeContent=false fails with
// not-empty if the folder has children.
func (v *VFSRoot) DeleteFolder(ctx context.Context, path string, removeContent bool) error {
	if err := v.checkOpen(path); err != nil {
		return err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return err
	}
	return asVFSErr(parent.RemoveChild(ctx, name, removeContent), path)
}

// DeleteFile removes the file at path.
func (v *VFSRoot) DeleteFile(ctx context.Context, path string) error {
	if err := v.checkOpen(path); err != nil {
		return err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return err
	}
	return asVFSErr(parent.RemoveChild(ctx, name, false), path)
}

// DeleteLink removes the link at path.
func (v *VFSRoot) DeleteLink(ctx context.Context, path string) error {
	return v.DeleteFile(ctx, path)
}

// Move relocates src to dst, preserving the moved node's objId and key.
// Errors are mapped to initPath for the source side, newPath for the
// destination side, per the error propagation rules.
func (v *VFSRoot) Move(ctx context.Context, src, dst string) error {
	if err := v.checkOpen(src); err != nil {
		return err
	}
	srcParent, srcName, err := v.resolveParent(ctx, src, false)
	if err != nil {
		return asVFSErr(err, src)
	}
	dstParent, dstName, err := v.resolveParent(ctx, dst, true)
	if err != nil {
		return asVFSErr(err, dst)
	}
	if err := srcParent.MoveChildTo(ctx, srcName, dstParent, dstName); err != nil {
		if IsNotFound(err) {
			return asVFSErr(err, src)
		}
		return asVFSErr(err, dst)
	}
	return nil
}

// NodeStat is the result of VFSRoot.Stat.
type NodeStat struct {
	Kind    NodeKind
	Version Version
	Attrs   CommonAttrs
	XAttrs  map[string]any
	Size    int64 // only meaningful for Kind == KindFile
}

// Stat resolves path and returns its kind, version, attrs, and (for files)
// size, without materializing byte content.
func (v *VFSRoot) Stat(ctx context.Context, path string) (NodeStat, error) {
	if err := v.checkOpen(path); err != nil {
		return NodeStat{}, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return NodeStat{}, err
	}
	kind, node, err := parent.GetNode(ctx, name)
	if err != nil {
		return NodeStat{}, asVFSErr(err, path)
	}
	switch n := node.(type) {
	case *FileNode:
		return NodeStat{Kind: kind, Version: n.Version(), Attrs: n.core.Attrs(), XAttrs: n.ListXAttrs(), Size: n.Size()}, nil
	case *FolderNode:
		return NodeStat{Kind: kind, Version: n.Version(), Attrs: n.core.Attrs(), XAttrs: n.ListXAttrs()}, nil
	case *SymLink:
		return NodeStat{Kind: kind, Version: n.core.Version(), Attrs: n.core.Attrs(), XAttrs: n.core.ListXAttrs()}, nil
	default:
		return NodeStat{}, errBadArg("unknown node kind")
	}
}

// ListFolder returns a snapshot of {name, kind} entries at path.
func (v *VFSRoot) ListFolder(ctx context.Context, path string) ([]DirEntry, Version, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, 0, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, 0, err
	}
	folder, err := v.root.GetFolderInSubTree(ctx, segs, false, false)
	if err != nil {
		return nil, 0, asVFSErr(err, path)
	}
	entries, version := folder.List()
	return entries, version, nil
}

// ReadBytes returns the subrange [start, end) of the file's content.
func (v *VFSRoot) ReadBytes(ctx context.Context, path string, start, end *int64) ([]byte, Version, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, 0, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return nil, 0, err
	}
	file, err := parent.GetFile(ctx, name, false)
	if err != nil {
		return nil, 0, asVFSErr(err, path)
	}
	b, version, err := file.ReadBytes(ctx, start, end)
	return b, version, asVFSErr(err, path)
}

// ReadText reads the whole file as UTF-8 text.
func (v *VFSRoot) ReadText(ctx context.Context, path string) (string, Version, error) {
	b, version, err := v.ReadBytes(ctx, path, nil, nil)
	if err != nil {
		return "", 0, err
	}
	return string(b), version, nil
}

// ReadJSON reads and unmarshals the whole file into out. Decoding failures
// are wrapped as parsing-error.
func (v *VFSRoot) ReadJSON(ctx context.Context, path string, out any) (Version, error) {
	b, version, err := v.ReadBytes(ctx, path, nil, nil)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return 0, ErrParsing(path, err)
	}
	return version, nil
}

func (v *VFSRoot) writeWholeFile(ctx context.Context, path string, content []byte, flags WriteFlags) (Version, error) {
	if err := v.checkOpen(path); err != nil {
		return 0, err
	}
	parent, name, err := v.resolveParent(ctx, path, flags.Create)
	if err != nil {
		return 0, err
	}
	file, err := parent.GetFile(ctx, name, true)
	if err != nil {
		return 0, asVFSErr(err, path)
	}
	if file == nil {
		if !flags.Create {
			return 0, ErrNotFound(path)
		}
		file, err = parent.CreateFile(ctx, name, false)
		if err != nil {
			return 0, asVFSErr(err, path)
		}
	} else if flags.Create && flags.Exclusive {
		return 0, ErrAlreadyExists(path)
	}
	version, err := file.Save(ctx, content, nil)
	return version, asVFSErr(err, path)
}

// WriteBytes writes content as path's complete payload per flags.
func (v *VFSRoot) WriteBytes(ctx context.Context, path string, content []byte, flags WriteFlags) (Version, error) {
	return v.writeWholeFile(ctx, path, content, flags)
}

// WriteText writes s as path's complete payload per flags.
func (v *VFSRoot) WriteText(ctx context.Context, path string, s string, flags WriteFlags) (Version, error) {
	return v.writeWholeFile(ctx, path, []byte(s), flags)
}

// WriteJSON marshals v_ and writes it as path's complete payload.
func (v *VFSRoot) WriteJSON(ctx context.Context, path string, v_ any, flags WriteFlags) (Version, error) {
	b, err := json.Marshal(v_)
	if err != nil {
		return 0, ErrParsing(path, err)
	}
	return v.writeWholeFile(ctx, path, b, flags)
}

// GetByteSink opens a streaming write at path, returning a sink and the new
// version synchronously. flags.CurrentVersion, if set, is checked before
// any byte is written. flags.Truncate must be true; a streaming sink always
// starts from an empty payload and GetByteSink rejects Truncate: false with
// ENOSYS rather than silently truncating anyway.
func (v *VFSRoot) GetByteSink(ctx context.Context, path string, flags WriteFlags) (FileByteSink, Version, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, 0, err
	}
	parent, name, err := v.resolveParent(ctx, path, flags.Create)
	if err != nil {
		return nil, 0, err
	}
	file, err := parent.GetFile(ctx, name, true)
	if err != nil {
		return nil, 0, asVFSErr(err, path)
	}
	if file == nil {
		if !flags.Create {
			return nil, 0, ErrNotFound(path)
		}
		file, err = parent.CreateFile(ctx, name, false)
		if err != nil {
			return nil, 0, asVFSErr(err, path)
		}
	} else if flags.Create && flags.Exclusive {
		return nil, 0, ErrAlreadyExists(path)
	}
	sink, version, err := file.WriteSink(ctx, flags, nil)
	return sink, version, asVFSErr(err, path)
}

// CopyFile copies src's content to dst, creating dst if absent.
func (v *VFSRoot) CopyFile(ctx context.Context, src, dst string) error {
	content, _, err := v.ReadBytes(ctx, src, nil, nil)
	if err != nil {
		return err
	}
	_, err = v.WriteBytes(ctx, dst, content, WriteFlags{Create: true, Truncate: true})
	return err
}

// CopyFolder recursively copies src into dst. mergeAndOverwrite, when
// false, fails with already-exists if dst already has a child with a name
// also present in src.
func (v *VFSRoot) CopyFolder(ctx context.Context, src, dst string, mergeAndOverwrite bool) error {
	if err := v.checkOpen(src); err != nil {
		return err
	}
	srcSegs, err := splitPath(src)
	if err != nil {
		return err
	}
	srcFolder, err := v.root.GetFolderInSubTree(ctx, srcSegs, false, false)
	if err != nil {
		return asVFSErr(err, src)
	}
	if err := v.MakeFolder(ctx, dst, false); err != nil && !IsAlreadyExists(err) {
		return err
	}
	entries, _ := srcFolder.List()
	for _, e := range entries {
		childSrc := joinChild(src, e.Name)
		childDst := joinChild(dst, e.Name)
		switch e.Kind {
		case KindFile:
			if !mergeAndOverwrite {
				if _, err := v.Stat(ctx, childDst); err == nil {
					return ErrAlreadyExists(childDst)
				}
			}
			if err := v.CopyFile(ctx, childSrc, childDst); err != nil {
				return err
			}
		case KindFolder:
			if !mergeAndOverwrite {
				if _, err := v.Stat(ctx, childDst); err == nil {
					return ErrAlreadyExists(childDst)
				}
			}
			if err := v.CopyFolder(ctx, childSrc, childDst, mergeAndOverwrite); err != nil {
				return err
			}
		case KindLink:
			params, err := v.GetLinkParams(ctx, childSrc)
			if err != nil {
				return err
			}
			if err := v.Link(ctx, childDst, params); err != nil && (!mergeAndOverwrite || !IsAlreadyExists(err)) {
				return err
			}
		}
	}
	return nil
}

// SaveFile imports src's content (read fully into memory) from another VFS
// into this one at dst.
func (v *VFSRoot) SaveFile(ctx context.Context, other *VFSRoot, src, dst string) error {
	content, _, err := other.ReadBytes(ctx, src, nil, nil)
	if err != nil {
		return err
	}
	_, err = v.WriteBytes(ctx, dst, content, WriteFlags{Create: true, Truncate: true})
	return err
}

// SaveFolder imports src's subtree from another VFS into this one at dst.
func (v *VFSRoot) SaveFolder(ctx context.Context, other *VFSRoot, src, dst string) error {
	if err := v.MakeFolder(ctx, dst, false); err != nil && !IsAlreadyExists(err) {
		return err
	}
	entries, _, err := other.ListFolder(ctx, src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		childSrc := joinChild(src, e.Name)
		childDst := joinChild(dst, e.Name)
		switch e.Kind {
		case KindFile:
			if err := v.SaveFile(ctx, other, childSrc, childDst); err != nil {
				return err
			}
		case KindFolder:
			if err := v.SaveFolder(ctx, other, childSrc, childDst); err != nil {
				return err
			}
		case KindLink:
			params, err := other.GetLinkParams(ctx, childSrc)
			if err != nil {
				return err
			}
			if err := v.Link(ctx, childDst, params); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetLinkParams returns the LinkParameters describing the node at path as a
// link target.
func (v *VFSRoot) GetLinkParams(ctx context.Context, path string) (LinkParameters, error) {
	if err := v.checkOpen(path); err != nil {
		return LinkParameters{}, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return LinkParameters{}, err
	}
	kind, node, err := parent.GetNode(ctx, name)
	if err != nil {
		return LinkParameters{}, asVFSErr(err, path)
	}
	var params LinkParameters
	switch n := node.(type) {
	case *FileNode:
		params, err = n.GetLinkParams()
	case *FolderNode:
		params, err = n.GetLinkParams()
	default:
		return LinkParameters{}, errBadArg("cannot link to a " + kind.String())
	}
	return params, asVFSErr(err, path)
}

// ReadLink returns the LinkParameters stored at a link node.
func (v *VFSRoot) ReadLink(ctx context.Context, path string) (LinkParameters, error) {
	if err := v.checkOpen(path); err != nil {
		return LinkParameters{}, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return LinkParameters{}, err
	}
	link, err := parent.GetLink(ctx, name)
	if err != nil {
		return LinkParameters{}, asVFSErr(err, path)
	}
	return link.Params(), nil
}

// Link creates a link node at path pointing at target, failing with the
// plain invariant error from errLinkIncompatibleStorage when the creating
// folder's storage cannot reference target.StorageType.
func (v *VFSRoot) Link(ctx context.Context, path string, target LinkParameters) error {
	if err := v.checkOpen(path); err != nil {
		return err
	}
	parent, name, err := v.resolveParent(ctx, path, true)
	if err != nil {
		return err
	}
	return asVFSErr(parent.CreateLink(ctx, name, target), path)
}

// GetXAttr returns a single committed extended attribute of the node at
// path.
func (v *VFSRoot) GetXAttr(ctx context.Context, path, name string) (any, bool, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, false, err
	}
	parent, childName, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return nil, false, err
	}
	kind, node, err := parent.GetNode(ctx, childName)
	if err != nil {
		return nil, false, asVFSErr(err, path)
	}
	switch n := node.(type) {
	case *FileNode:
		val, ok := n.GetXAttr(name)
		return val, ok, nil
	case *FolderNode:
		val, ok := n.GetXAttr(name)
		return val, ok, nil
	default:
		return nil, false, errBadArg("cannot read xattrs of a " + kind.String())
	}
}

// ListXAttrs returns every committed extended attribute of the node at
// path.
func (v *VFSRoot) ListXAttrs(ctx context.Context, path string) (map[string]any, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return nil, err
	}
	kind, node, err := parent.GetNode(ctx, name)
	if err != nil {
		return nil, asVFSErr(err, path)
	}
	switch n := node.(type) {
	case *FileNode:
		return n.ListXAttrs(), nil
	case *FolderNode:
		return n.ListXAttrs(), nil
	default:
		return nil, errBadArg("cannot list xattrs of a " + kind.String())
	}
}

// UpdateXAttrs applies changes to the extended attributes of the node at
// path, leaving its content (file) or child table (folder) untouched.
func (v *VFSRoot) UpdateXAttrs(ctx context.Context, path string, changes XAttrChanges) (Version, error) {
	if err := v.checkOpen(path); err != nil {
		return 0, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return 0, err
	}
	kind, node, err := parent.GetNode(ctx, name)
	if err != nil {
		return 0, asVFSErr(err, path)
	}
	var version Version
	switch n := node.(type) {
	case *FileNode:
		version, err = n.UpdateXAttrs(ctx, changes)
	case *FolderNode:
		version, err = n.UpdateXAttrs(ctx, changes)
	default:
		return 0, errBadArg("cannot update xattrs of a " + kind.String())
	}
	return version, asVFSErr(err, path)
}

// ReadonlySubRoot wraps the folder at path as a SubRoot whose mutating
// operations all fail; a reader granted it can decrypt every
// descendant via the normal key-cascade without any additional keys.
func (v *VFSRoot) ReadonlySubRoot(ctx context.Context, path string) (*SubRoot, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	folder, err := v.root.GetFolderInSubTree(ctx, segs, false, false)
	if err != nil {
		return nil, asVFSErr(err, path)
	}
	return &SubRoot{parent: v, mount: folder, readonly: true}, nil
}

// WritableSubRoot is the mutable analog of ReadonlySubRoot. create governs
// whether the mount folder is created if missing.
func (v *VFSRoot) WritableSubRoot(ctx context.Context, path string, create bool) (*SubRoot, error) {
	if err := v.checkOpen(path); err != nil {
		return nil, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	folder, err := v.root.GetFolderInSubTree(ctx, segs, create, false)
	if err != nil {
		return nil, asVFSErr(err, path)
	}
	return &SubRoot{parent: v, mount: folder, readonly: false}, nil
}

// SubRoot is a folder-scoped view over a VFSRoot: every path is resolved
// relative to the mounted folder, and a readonly SubRoot rejects mutation
// up front without touching the store.
type SubRoot struct {
	parent   *VFSRoot
	mount    *FolderNode
	readonly bool
}

func (s *SubRoot) requireWritable() error {
	if s.readonly {
		return newErr(EPERM, "", nil)
	}
	return nil
}

// ListFolder lists path relative to the sub-root's mount folder.
func (s *SubRoot) ListFolder(ctx context.Context, path string) ([]DirEntry, Version, error) {
	segs, err := splitPath(joinChild("/", path))
	if err != nil {
		return nil, 0, err
	}
	folder, err := s.mount.GetFolderInSubTree(ctx, segs, false, false)
	if err != nil {
		return nil, 0, asVFSErr(err, path)
	}
	entries, version := folder.List()
	return entries, version, nil
}

// ReadBytes reads path relative to the sub-root's mount folder.
func (s *SubRoot) ReadBytes(ctx context.Context, path string, start, end *int64) ([]byte, Version, error) {
	segs, err := splitPath(joinChild("/", path))
	if err != nil {
		return nil, 0, err
	}
	if len(segs) == 0 {
		return nil, 0, ErrNotFound(path)
	}
	folder, err := s.mount.GetFolderInSubTree(ctx, segs[:len(segs)-1], false, false)
	if err != nil {
		return nil, 0, asVFSErr(err, path)
	}
	file, err := folder.GetFile(ctx, segs[len(segs)-1], false)
	if err != nil {
		return nil, 0, asVFSErr(err, path)
	}
	b, v, err := file.ReadBytes(ctx, start, end)
	return b, v, asVFSErr(err, path)
}

// WriteBytes writes path relative to the sub-root's mount folder. Fails
// with a plain permission error on a readonly sub-root.
func (s *SubRoot) WriteBytes(ctx context.Context, path string, content []byte, flags WriteFlags) (Version, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	segs, err := splitPath(joinChild("/", path))
	if err != nil {
		return 0, err
	}
	if len(segs) == 0 {
		return 0, ErrNotFound(path)
	}
	folder, err := s.mount.GetFolderInSubTree(ctx, segs[:len(segs)-1], flags.Create, false)
	if err != nil {
		return 0, asVFSErr(err, path)
	}
	file, err := folder.GetFile(ctx, segs[len(segs)-1], true)
	if err != nil {
		return 0, asVFSErr(err, path)
	}
	if file == nil {
		if !flags.Create {
			return 0, ErrNotFound(path)
		}
		file, err = folder.CreateFile(ctx, segs[len(segs)-1], false)
		if err != nil {
			return 0, asVFSErr(err, path)
		}
	} else if flags.Create && flags.Exclusive {
		return 0, ErrAlreadyExists(path)
	}
	v, err := file.Save(ctx, content, nil)
	return v, asVFSErr(err, path)
}

// resolveNode resolves path relative to the sub-root's mount folder and
// returns the kind-discriminated child node, the way VFSRoot.resolveParent
// plus FolderNode.GetNode does for a full VFSRoot.
func (s *SubRoot) resolveNode(ctx context.Context, path string) (NodeKind, any, error) {
	segs, err := splitPath(joinChild("/", path))
	if err != nil {
		return 0, nil, err
	}
	if len(segs) == 0 {
		return 0, nil, ErrNotFound(path)
	}
	folder, err := s.mount.GetFolderInSubTree(ctx, segs[:len(segs)-1], false, false)
	if err != nil {
		return 0, nil, asVFSErr(err, path)
	}
	kind, node, err := folder.GetNode(ctx, segs[len(segs)-1])
	return kind, node, asVFSErr(err, path)
}

// GetXAttr returns a single committed extended attribute of the node at
// path, relative to the sub-root's mount folder.
func (s *SubRoot) GetXAttr(ctx context.Context, path, name string) (any, bool, error) {
	kind, node, err := s.resolveNode(ctx, path)
	if err != nil {
		return nil, false, err
	}
	switch n := node.(type) {
	case *FileNode:
		val, ok := n.GetXAttr(name)
		return val, ok, nil
	case *FolderNode:
		val, ok := n.GetXAttr(name)
		return val, ok, nil
	default:
		return nil, false, errBadArg("cannot read xattrs of a " + kind.String())
	}
}

// ListXAttrs returns every committed extended attribute of the node at path,
// relative to the sub-root's mount folder.
func (s *SubRoot) ListXAttrs(ctx context.Context, path string) (map[string]any, error) {
	kind, node, err := s.resolveNode(ctx, path)
	if err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *FileNode:
		return n.ListXAttrs(), nil
	case *FolderNode:
		return n.ListXAttrs(), nil
	default:
		return nil, errBadArg("cannot list xattrs of a " + kind.String())
	}
}

// UpdateXAttrs applies changes to the extended attributes of the node at
// path, relative to the sub-root's mount folder. Fails with a plain
// permission error on a readonly sub-root.
func (s *SubRoot) UpdateXAttrs(ctx context.Context, path string, changes XAttrChanges) (Version, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	kind, node, err := s.resolveNode(ctx, path)
	if err != nil {
		return 0, err
	}
	switch n := node.(type) {
	case *FileNode:
		return n.UpdateXAttrs(ctx, changes)
	case *FolderNode:
		return n.UpdateXAttrs(ctx, changes)
	default:
		return 0, errBadArg("cannot update xattrs of a " + kind.String())
	}
}

// WatchFolder subscribes to path's own child-table events.
func (v *VFSRoot) WatchFolder(ctx context.Context, path string) (<-chan StoreEvent, func(), error) {
	if err := v.checkOpen(path); err != nil {
		return nil, nil, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, nil, err
	}
	folder, err := v.root.GetFolderInSubTree(ctx, segs, false, false)
	if err != nil {
		return nil, nil, asVFSErr(err, path)
	}
	ch, detach := folder.Watch()
	return v.scopedDetach(ch, detach)
}

// WatchFile subscribes to path's own change events.
func (v *VFSRoot) WatchFile(ctx context.Context, path string) (<-chan StoreEvent, func(), error) {
	if err := v.checkOpen(path); err != nil {
		return nil, nil, err
	}
	parent, name, err := v.resolveParent(ctx, path, false)
	if err != nil {
		return nil, nil, err
	}
	file, err := parent.GetFile(ctx, name, false)
	if err != nil {
		return nil, nil, asVFSErr(err, path)
	}
	ch, detach := file.Watch()
	return v.scopedDetach(ch, detach)
}

// scopedDetach wraps detach so closing the VFS also terminates the
// subscription, per the close-cancels-all-watches contract.
func (v *VFSRoot) scopedDetach(ch <-chan StoreEvent, detach func()) (<-chan StoreEvent, func(), error) {
	var once sync.Once
	wrapped := func() { once.Do(detach) }
	go func() {
		<-v.closeC
		wrapped()
	}()
	return ch, wrapped, nil
}

// WatchTree subscribes to every path-shaped event under path, translating
// the store's objId-addressed NodeEvents via a fresh eventRouter seeded by
// a depth-first walk of the subtree.
func (v *VFSRoot) WatchTree(ctx context.Context, path string) (<-chan PathEvent, func(), error) {
	if err := v.checkOpen(path); err != nil {
		return nil, nil, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, nil, err
	}
	folder, err := v.root.GetFolderInSubTree(ctx, segs, false, false)
	if err != nil {
		return nil, nil, asVFSErr(err, path)
	}

	router := newEventRouter()
	if err := seedRouter(ctx, router, folder, path); err != nil {
		return nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	events, err := v.storage.NodeEvents(watchCtx)
	if err != nil {
		cancel()
		return nil, nil, ErrIO(path, err)
	}
	out := make(chan PathEvent, 64)
	go func() {
		defer close(out)
		watchTree(watchCtx, events, router, out)
	}()

	var once sync.Once
	detach := func() { once.Do(cancel) }
	go func() {
		<-v.closeC
		detach()
	}()
	return out, detach, nil
}

// seedRouter performs the depth-first walk required before watch_tree
// event replay begins: insert (rootObjId, path) and recurse into folders
// only; files/links contribute entries as themselves, not recursion roots.
func seedRouter(ctx context.Context, router *eventRouter, folder *FolderNode, path string) error {
	router.seed(folder.ObjID(), path)
	entries, _ := folder.List()
	for _, e := range entries {
		childPath := joinChild(path, e.Name)
		switch e.Kind {
		case KindFolder:
			child, err := folder.loadChildFolder(ctx, e.Name, folder.childLocked(e.Name))
			if err != nil {
				return err
			}
			if err := seedRouter(ctx, router, child, childPath); err != nil {
				return err
			}
		case KindFile:
			entry := folder.childLocked(e.Name)
			router.seed(entry.ObjID, childPath)
		case KindLink:
			entry := folder.childLocked(e.Name)
			router.seed(entry.ObjID, childPath)
		}
	}
	return nil
}

// childLocked is a small accessor seedRouter uses to read a child entry by
// name without exporting the children map.
func (fn *FolderNode) childLocked(name string) childEntry {
	fn.mu.RLock()
	defer fn.mu.RUnlock()
	return fn.children[name]
}
