package evfs

import "fmt"

// ObjectID is the opaque identifier a Storage assigns to a newly created
// object. It is immutable for the lifetime of the node it backs.
type ObjectID string

// RootObjectID is the distinguished ID of a filesystem's root folder. It is
// never returned by Storage.GenerateNewObjID; Storage implementations treat
// it as a sentinel address for GetObj/SaveObj.
const RootObjectID ObjectID = "@root"

// Version is a monotonically increasing per-object counter. Version 0 means
// "not yet persisted".
type Version int64

// VersionUnknown is returned by storages that do not track versions. It must
// never be compared with < or > against a real version; use Known to guard
// such comparisons.
const VersionUnknown Version = -1

// Known reports whether v is a real, comparable version.
func (v Version) Known() bool {
	return v >= 0
}

// NodeKind is the closed set of node types in the tree. Once assigned to an
// object, a node's kind never changes.
type NodeKind uint8

const (
	// KindFile identifies a node holding versioned byte content.
	KindFile NodeKind = iota
	// KindFolder identifies a node holding a child name table.
	KindFolder
	// KindLink identifies a node holding serialized LinkParameters.
	KindLink
)

// String renders the node kind for logs and error messages.
func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// StorageType classifies the storage a node's object lives in. It governs
// the linking policy enforced by FolderNode.CreateLink: local may link to
// anything; synced may link to synced or share; share may only link to
// share.
type StorageType uint8

const (
	// StorageLocal is a device-local, unsynchronized storage.
	StorageLocal StorageType = iota
	// StorageSynced is synchronized with the user's own other devices.
	StorageSynced
	// StorageShare is a storage shared with other users.
	StorageShare
)

// String renders the storage type for logs and error messages.
func (t StorageType) String() string {
	switch t {
	case StorageLocal:
		return "local"
	case StorageSynced:
		return "synced"
	case StorageShare:
		return "share"
	default:
		return "unknown"
	}
}

// CanLinkTo reports whether a link created from a node in storage t may
// target a node living in storage target, per the linking policy: local ->
// any; synced -> synced|share; share -> share.
func (t StorageType) CanLinkTo(target StorageType) bool {
	switch t {
	case StorageLocal:
		return true
	case StorageSynced:
		return target == StorageSynced || target == StorageShare
	case StorageShare:
		return target == StorageShare
	default:
		return false
	}
}

// CommonAttrs holds the writer-controlled timestamps carried inside every
// node's encrypted payload. Both are milliseconds since the Unix epoch.
type CommonAttrs struct {
	Ctime int64 `json:"ctime"`
	Mtime int64 `json:"mtime"`
}

// XAttrChanges describes an atomic extended-attribute mutation: removals
// are applied before sets, both within the same version bump.
type XAttrChanges struct {
	Set    map[string]any `json:"set,omitempty"`
	Remove []string       `json:"remove,omitempty"`
}

// IsEmpty reports whether the change set would have no effect.
func (c XAttrChanges) IsEmpty() bool {
	return len(c.Set) == 0 && len(c.Remove) == 0
}

// applyXAttrChanges returns a new map with changes applied to a copy of
// base: removals first, then sets, so a name present in both ends up set.
func applyXAttrChanges(base map[string]any, changes XAttrChanges) map[string]any {
	out := make(map[string]any, len(base)+len(changes.Set))
	for k, v := range base {
		out[k] = v
	}
	for _, name := range changes.Remove {
		delete(out, name)
	}
	for k, v := range changes.Set {
		out[k] = v
	}
	return out
}

// DirEntry is one snapshot row returned by FolderNode.List / VFSRoot.ListFolder.
type DirEntry struct {
	Name string
	Kind NodeKind
}

func (e DirEntry) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.Kind)
}

// WriteFlags controls create/exclusive/truncate semantics shared by every
// path-rooted write operation on VFSRoot.
type WriteFlags struct {
	Create    bool
	Exclusive bool
	// Truncate must be true for VFSRoot.GetByteSink streaming
	// writes: a streaming sink always starts from an empty payload. There
	// is no base-content seeding to preserve already-written bytes under
	// Truncate: false; GetByteSink rejects that combination with ENOSYS
	// rather than silently truncating anyway. WriteBytes/WriteText/WriteJSON
	// are whole-payload writes and ignore this flag.
	Truncate bool
	// CurrentVersion, when non-nil, is checked against the live version
	// before a streaming write proceeds; a mismatch fails with
	// ErrVersionMismatch before any byte is written.
	CurrentVersion *Version
}
