package evfs

import (
	"context"
	"encoding/base64"
)

// LinkParameters is the persisted, self-contained reference a SymLink node
// carries: enough to materialize its target without consulting the folder
// that created the link. Exactly one of File/Folder is set.
type LinkParameters struct {
	StorageType StorageType      `json:"storageType"`
	Readonly    bool             `json:"readonly,omitempty"`
	File        *FileLinkParams  `json:"file,omitempty"`
	Folder      *FolderLinkParams `json:"folder,omitempty"`
}

// FileLinkParams is the file-shaped half of LinkParameters (its File field).
type FileLinkParams struct {
	FileName string `json:"fileName"`
	ObjID    ObjectID `json:"objId"`
	FKey     string `json:"fKey"` // base64
}

// FolderLinkParams is the folder-shaped half of LinkParameters (its Folder field).
type FolderLinkParams struct {
	FolderName string `json:"folderName"`
	ObjID      ObjectID `json:"objId"`
	FKey       string `json:"fKey"` // base64
}

// IsFile reports whether the link targets a file.
func (lp LinkParameters) IsFile() bool { return lp.File != nil }

// IsFolder reports whether the link targets a folder.
func (lp LinkParameters) IsFolder() bool { return lp.Folder != nil }

// encodeKey renders a raw node key as the base64 string LinkParameters
// wire format uses.
func encodeKey(key []byte) string { return base64.StdEncoding.EncodeToString(key) }

// decodeKey parses a base64-encoded node key.
func decodeKey(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrParsing("", err)
	}
	return b, nil
}

// linkMeta is the JSON meta segment a link node's object persists.
type linkMeta struct {
	Attrs  CommonAttrs        `json:"attrs"`
	XAttrs map[string]any     `json:"xattrs,omitempty"`
	Params LinkParameters     `json:"params"`
}

// SymLink is a node whose payload is a serialized LinkParameters pointing
// at a target node, possibly in another storage.
type SymLink struct {
	core   *nodeCore
	params LinkParameters
}

func newSymLink(core *nodeCore, params LinkParameters) *SymLink {
	return &SymLink{core: core, params: params}
}

// loadSymLink hydrates a SymLink from a decrypted payload.
func loadSymLink(core *nodeCore, payload *Payload) (*SymLink, error) {
	var meta linkMeta
	if err := decodeMeta(payload.Meta, &meta); err != nil {
		return nil, err
	}
	core.setUpdated(payload.Version, attrState{common: meta.Attrs, xattrs: meta.XAttrs})
	return newSymLink(core, meta.Params), nil
}

// ObjID returns the link node's own object id (distinct from the target's).
func (s *SymLink) ObjID() ObjectID { return s.core.ObjID() }

// Params returns the link's target parameters.
func (s *SymLink) Params() LinkParameters { return s.params }

// persistLinkNode writes a brand-new link node's initial content: used by
// FolderNode.CreateLink, which has already allocated objID/key and must
// persist the link before installing the parent entry (child-first
// ordering, spec §4.F).
func persistLinkNode(ctx context.Context, persist *nodePersistence, key []byte, objID ObjectID, params LinkParameters, now int64) (Subscribe, error) {
	meta := linkMeta{Attrs: CommonAttrs{Ctime: now, Mtime: now}, Params: params}
	raw, err := encodeMeta(meta)
	if err != nil {
		return nil, ErrParsing(string(objID), err)
	}
	return persist.WriteWhole(ctx, key, objID, raw, nil)
}

// buildFileLinkParams constructs the file-shaped LinkParameters a
// FileNode.GetLinkParams call returns, describing the file as a link
// target. Fails when the file's own storage type cannot be referenced by a
// link at all (spec §4.D: "fails when storage type ∉ {local, synced}").
// Whether a given *other* node may actually link to it is a separate check
// (StorageType.CanLinkTo), applied by FolderNode.CreateLink at the moment a
// link entry is installed.
func buildFileLinkParams(storage StorageType, name string, objID ObjectID, key []byte) (LinkParameters, error) {
	if storage != StorageLocal && storage != StorageSynced {
		return LinkParameters{}, newErr(ENOSYS, "", nil)
	}
	return LinkParameters{
		StorageType: storage,
		File:        &FileLinkParams{FileName: name, ObjID: objID, FKey: encodeKey(key)},
	}, nil
}

// buildFolderLinkParams is the folder-shaped analog of
// buildFileLinkParams.
func buildFolderLinkParams(storage StorageType, name string, objID ObjectID, key []byte) (LinkParameters, error) {
	if storage != StorageLocal && storage != StorageSynced {
		return LinkParameters{}, newErr(ENOSYS, "", nil)
	}
	return LinkParameters{
		StorageType: storage,
		Folder:      &FolderLinkParams{FolderName: name, ObjID: objID, FKey: encodeKey(key)},
	}, nil
}
