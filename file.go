package evfs

import (
	"context"
	"io"
	"sync"
)

// fileMeta is the JSON meta segment a file node's object persists.
type fileMeta struct {
	Attrs  CommonAttrs    `json:"attrs"`
	XAttrs map[string]any `json:"xattrs,omitempty"`
	Size   int64          `json:"size"`
}

// FileNode is a versioned byte-content node. All mutation goes through
// nodeCore.doChange so writers are totally ordered.
type FileNode struct {
	core *nodeCore
	bc   *localBroadcaster

	muSize sync.Mutex
	size   int64
}

func newFileNode(core *nodeCore) *FileNode {
	return &FileNode{core: core, bc: newLocalBroadcaster()}
}

// loadFileNode hydrates a FileNode from a decrypted payload, typically
// right after FolderNode resolves a child entry to a file.
func loadFileNode(core *nodeCore, payload *Payload) (*FileNode, error) {
	var meta fileMeta
	if err := decodeMeta(payload.Meta, &meta); err != nil {
		return nil, err
	}
	core.setUpdated(payload.Version, attrState{common: meta.Attrs, xattrs: meta.XAttrs})
	f := newFileNode(core)
	f.size = meta.Size
	return f, nil
}

// ObjID returns the file's object id.
func (f *FileNode) ObjID() ObjectID { return f.core.ObjID() }

// Version returns the live committed version.
func (f *FileNode) Version() Version { return f.core.Version() }

// Size returns the live committed content size.
func (f *FileNode) Size() int64 {
	f.muSize.Lock()
	defer f.muSize.Unlock()
	return f.size
}

func (f *FileNode) setSize(n int64) {
	f.muSize.Lock()
	f.size = n
	f.muSize.Unlock()
}

// ReadSrc returns a lazy byte source over the current content together with
// the observed version, fetching and decrypting the object fresh on every
// call (readers never block on the change lock).
func (f *FileNode) ReadSrc(ctx context.Context) (ByteSource, Version, error) {
	obj, err := f.core.storage.GetObj(ctx, f.core.objID)
	if err != nil {
		return nil, 0, ErrIO(string(f.core.objID), err)
	}
	payload, err := f.core.persist.ReadPayload(ctx, f.core.key, f.core.objID, obj)
	if err != nil {
		return nil, 0, err
	}
	var meta fileMeta
	if err := decodeMeta(payload.Meta, &meta); err != nil {
		return nil, 0, err
	}
	if obj.Version().Known() && obj.Version() > f.core.Version() {
		f.core.setUpdated(obj.Version(), attrState{common: meta.Attrs, xattrs: meta.XAttrs})
		f.setSize(meta.Size)
	}
	return payload.Content, payload.Version, nil
}

// ReadBytes returns the subrange [start, min(end, size)) of the current
// content. start >= size returns empty bytes without error. Negative
// bounds are a caller bug (bad-arg).
func (f *FileNode) ReadBytes(ctx context.Context, start, end *int64) ([]byte, Version, error) {
	if (start != nil && *start < 0) || (end != nil && *end < 0) {
		return nil, 0, errBadArg("read range must not be negative")
	}
	src, version, err := f.ReadSrc(ctx)
	if err != nil {
		return nil, 0, err
	}
	size := src.Size()

	s := int64(0)
	if start != nil {
		s = *start
	}
	e := size
	if end != nil && *end < size {
		e = *end
	}
	if s >= size || s >= e {
		return []byte{}, version, nil
	}
	buf := make([]byte, e-s)
	n, err := src.ReadAt(ctx, buf, s)
	if err != nil && err != io.EOF {
		return nil, 0, ErrIO(string(f.core.objID), err)
	}
	return buf[:n], version, nil
}

// Save is a one-shot write of a complete payload: bumps version, rewrites
// size, and publishes a file-change event.
func (f *FileNode) Save(ctx context.Context, content []byte, xattrChanges *XAttrChanges) (Version, error) {
	var newVersion Version
	err := f.core.doChange(ctx, xattrChanges, func(ctx context.Context, p changeParams) (Version, attrState, error) {
		meta := fileMeta{Attrs: p.attrs.common, XAttrs: p.attrs.xattrs, Size: int64(len(content))}
		raw, err := encodeMeta(meta)
		if err != nil {
			return 0, attrState{}, err
		}
		sub, err := f.core.persist.WriteWhole(ctx, f.core.key, f.core.objID, raw, content)
		if err != nil {
			return 0, attrState{}, err
		}
		if err := f.core.storage.SaveObj(ctx, f.core.objID, p.newVersion, sub); err != nil {
			return 0, attrState{}, ErrIO(string(f.core.objID), err)
		}
		f.setSize(int64(len(content)))
		newVersion = p.newVersion
		return p.newVersion, p.attrs, nil
	})
	if err != nil {
		return 0, err
	}
	f.publish(ctx, StoreEvent{Kind: EvFileChange, Name: f.core.Name()})
	return newVersion, nil
}

// WriteSink opens the streaming-write protocol (spec §4.D, §9): validates
// currentVersion, synchronously returns a usable sink and the new version,
// and runs the store save as a detached task racing the sink's lifetime.
// This call returns as soon as the sink is ready; the detached task keeps
// the do_change lock held until the store save finishes or fails.
func (f *FileNode) WriteSink(ctx context.Context, flags WriteFlags, xattrChanges *XAttrChanges) (FileByteSink, Version, error) {
	if flags.CurrentVersion != nil && *flags.CurrentVersion != f.core.Version() {
		return nil, 0, ErrVersionMismatch(string(f.core.objID))
	}
	if !flags.Truncate {
		return nil, 0, newErr(ENOSYS, "", nil)
	}

	type result struct {
		sink       FileByteSink
		newVersion Version
		attrs      attrState
		err        error
	}
	resultC := make(chan result, 1)

	go func() {
		changeErr := f.core.doChange(ctx, xattrChanges, func(ctx context.Context, p changeParams) (Version, attrState, error) {
			metaPlaceholder := fileMeta{Attrs: p.attrs.common, XAttrs: p.attrs.xattrs, Size: 0}
			rawMeta, err := encodeMeta(metaPlaceholder)
			if err != nil {
				resultC <- result{err: err}
				return 0, attrState{}, err
			}

			sink, sub, err := f.core.persist.WriteSink(ctx, f.core.key, f.core.objID, rawMeta)
			if err != nil {
				resultC <- result{err: err}
				return 0, attrState{}, err
			}

			saveDone := make(chan error, 1)
			go func() {
				saveDone <- f.core.storage.SaveObj(ctx, f.core.objID, p.newVersion, sub)
			}()

			resultC <- result{sink: sink, newVersion: p.newVersion, attrs: p.attrs}

			// sink.Done (called by the caller holding our returned
			// FileByteSink) closes the pipe feeding sub; until then this
			// blocks, keeping do_change's lock held for the whole interval.
			saveErr := <-saveDone
			if saveErr != nil {
				return 0, attrState{}, ErrIO(string(f.core.objID), saveErr)
			}
			f.setSize(sink.Size())
			return p.newVersion, p.attrs, nil
		})
		if changeErr == nil {
			f.publish(ctx, StoreEvent{Kind: EvFileChange, Name: f.core.Name()})
		}
	}()

	res := <-resultC
	if res.err != nil {
		return nil, 0, res.err
	}
	return res.sink, res.newVersion, nil
}

// GetLinkParams returns the link parameters describing this file as a link
// target, per spec §4.D: fails when this file's own storage is not local or
// synced.
func (f *FileNode) GetLinkParams() (LinkParameters, error) {
	return buildFileLinkParams(f.core.storage.Type(), f.core.Name(), f.core.objID, f.core.key)
}

// GetXAttr returns a committed extended attribute.
func (f *FileNode) GetXAttr(name string) (any, bool) { return f.core.GetXAttr(name) }

// ListXAttrs returns a snapshot of every committed extended attribute.
func (f *FileNode) ListXAttrs() map[string]any { return f.core.ListXAttrs() }

// UpdateXAttrs applies changes to this file's extended attributes without
// rewriting its content, re-saving the unchanged bytes under the bumped
// version the way Save already threads xattrChanges through do_change.
func (f *FileNode) UpdateXAttrs(ctx context.Context, changes XAttrChanges) (Version, error) {
	content, _, err := f.ReadBytes(ctx, nil, nil)
	if err != nil {
		return 0, err
	}
	return f.Save(ctx, content, &changes)
}

// Watch subscribes to this file's own change events, returning a detach
// function. Matches the watch_file(path, observer) -> detach contract.
func (f *FileNode) Watch() (<-chan StoreEvent, func()) {
	return f.bc.subscribe()
}

// publish fans ev out to this file's direct watch_file subscribers and to
// the store's low-level NodeEvents feed. Best-effort: the write ev reports
// has already committed, so a notification failure here is swallowed.
func (f *FileNode) publish(ctx context.Context, ev StoreEvent) {
	f.bc.publish(ev)
	_ = f.core.storage.PublishNodeEvent(ctx, NodeEvent{ObjID: f.core.objID, Event: ev})
}
