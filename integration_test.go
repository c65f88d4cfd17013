package evfs_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/privfs/evfs"
)

// S1: fresh VFS, create+read a nested text file.
func TestScenarioCreateReadText(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if _, err := root.WriteText(ctx, "/a/b.txt", "hello", evfs.WriteFlags{Create: true, Truncate: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, _, err := root.ListFolder(ctx, "/a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "b.txt" || entries[0].Kind != evfs.KindFile {
		t.Fatalf("entries = %v", entries)
	}
	text, _, err := root.ReadText(ctx, "/a/b.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q, want hello", text)
	}
}

// S2: an exclusive create against an existing file fails without mutating it.
func TestScenarioExclusiveCollision(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	v1, err := root.WriteText(ctx, "/a/b.txt", "hello", evfs.WriteFlags{Create: true, Truncate: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = root.WriteText(ctx, "/a/b.txt", "x", evfs.WriteFlags{Create: true, Exclusive: true, Truncate: true})
	if !evfs.IsAlreadyExists(err) {
		t.Fatalf("expected already-exists, got %v", err)
	}
	if !isVFSErrorWithPath(err, "/a/b.txt") {
		t.Fatalf("expected path /a/b.txt on error, got %v", err)
	}

	text, v2, err := root.ReadText(ctx, "/a/b.txt")
	if err != nil {
		t.Fatalf("read after collision: %v", err)
	}
	if text != "hello" || v2 != v1 {
		t.Fatalf("content/version changed: text=%q v=%d, want %q %d", text, v2, "hello", v1)
	}
}

func isVFSErrorWithPath(err error, path string) bool {
	ve, ok := err.(*evfs.VFSError)
	return ok && ve.Path == path
}

// S3: a non-empty folder refuses to delete without removeContent.
func TestScenarioNonEmptyFolderDelete(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if err := root.MakeFolder(ctx, "/d", false); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := root.WriteText(ctx, "/d/f", "1", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := root.DeleteFolder(ctx, "/d", false); !evfs.Is(err, evfs.ENOTEMPTY) {
		t.Fatalf("expected not-empty, got %v", err)
	}
	if err := root.DeleteFolder(ctx, "/d", true); err != nil {
		t.Fatalf("delete with removeContent: %v", err)
	}
	if _, _, err := root.ListFolder(ctx, "/d"); !evfs.IsNotFound(err) {
		t.Fatalf("expected /d gone, got %v", err)
	}
}

// S4: a cross-folder move relocates content and clears the source name.
func TestScenarioCrossFolderMove(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if err := root.MakeFolder(ctx, "/x", false); err != nil {
		t.Fatalf("mkdir /x: %v", err)
	}
	if err := root.MakeFolder(ctx, "/y", false); err != nil {
		t.Fatalf("mkdir /y: %v", err)
	}
	if _, err := root.WriteText(ctx, "/x/f", "v1", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := root.Move(ctx, "/x/f", "/y/g"); err != nil {
		t.Fatalf("move: %v", err)
	}

	text, _, err := root.ReadText(ctx, "/y/g")
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if text != "v1" {
		t.Fatalf("dst content = %q, want v1", text)
	}
	if _, _, err := root.ReadBytes(ctx, "/x/f", nil, nil); !evfs.IsNotFound(err) {
		t.Fatalf("expected source gone, got %v", err)
	}
}

// S5: watch_tree observes a cross-folder move as a correlated removal+addition.
func TestScenarioWatchTreeRename(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	if err := root.MakeFolder(ctx, "/x", false); err != nil {
		t.Fatalf("mkdir /x: %v", err)
	}
	if err := root.MakeFolder(ctx, "/y", false); err != nil {
		t.Fatalf("mkdir /y: %v", err)
	}
	if _, err := root.WriteText(ctx, "/x/f", "v1", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	events, detach, err := root.WatchTree(ctx, "/")
	if err != nil {
		t.Fatalf("watch_tree: %v", err)
	}
	defer detach()

	if err := root.Move(ctx, "/x/f", "/y/g"); err != nil {
		t.Fatalf("move: %v", err)
	}

	first := recvPathEvent(t, events)
	second := recvPathEvent(t, events)

	if first.Event.MoveLabel == "" || first.Event.MoveLabel != second.Event.MoveLabel {
		t.Fatalf("events do not share a moveLabel: %+v / %+v", first, second)
	}
	removal, addition := first, second
	if removal.Event.Kind != evfs.EvEntryRemoval {
		removal, addition = second, first
	}
	if removal.Event.Kind != evfs.EvEntryRemoval || addition.Event.Kind != evfs.EvEntryAddition {
		t.Fatalf("expected one removal and one addition, got %+v / %+v", first, second)
	}
	if removal.Path != "/x/f" {
		t.Fatalf("removal path = %q, want /x/f", removal.Path)
	}
	if addition.Path != "/y/g" {
		t.Fatalf("addition path = %q, want /y/g", addition.Path)
	}
}

func recvPathEvent(t *testing.T, events <-chan evfs.PathEvent) evfs.PathEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("watch_tree channel closed before expected event arrived")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a watch_tree event")
	}
	panic("unreachable")
}

// S6: a streaming write's currentVersion precondition is checked before any
// bytes are written.
func TestScenarioVersionMismatchOnStreamingWrite(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	v, err := root.WriteText(ctx, "/a", "first", evfs.WriteFlags{Create: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	stale := v - 1

	_, _, err = root.GetByteSink(ctx, "/a", evfs.WriteFlags{CurrentVersion: &stale})
	if !evfs.IsVersionMismatch(err) {
		t.Fatalf("expected version-mismatch, got %v", err)
	}

	text, v2, err := root.ReadText(ctx, "/a")
	if err != nil {
		t.Fatalf("read after failed sink: %v", err)
	}
	if text != "first" || v2 != v {
		t.Fatalf("content/version changed after rejected sink: text=%q v=%d", text, v2)
	}
}

// Invariant 1: path round-trip.
func TestInvariantPathRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	b := []byte{0, 1, 2, 3, 0xFF, 0xFE}
	if _, err := root.WriteBytes(ctx, "/blob", b, evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, v, err := root.ReadBytes(ctx, "/blob", nil, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, b) {
		t.Fatalf("content mismatch")
	}
	if v < 1 {
		t.Fatalf("version = %d, want >= 1", v)
	}
}

// Invariant 2: version monotonicity.
func TestInvariantVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	var last evfs.Version = -2
	for i := 0; i < 5; i++ {
		v, err := root.WriteText(ctx, "/a", "x", evfs.WriteFlags{Create: true})
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if v <= last {
			t.Fatalf("version did not strictly increase: %d -> %d", last, v)
		}
		last = v
	}
}

// Invariant 3: rename identity (content survives a move).
func TestInvariantRenameIdentity(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/a", "payload", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := root.Move(ctx, "/a", "/b"); err != nil {
		t.Fatalf("move: %v", err)
	}
	text, _, err := root.ReadText(ctx, "/b")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if text != "payload" {
		t.Fatalf("content = %q after rename, want payload", text)
	}
}

// Invariant 5: a readonly sub-root can decrypt its whole subtree with no
// extra keys.
func TestInvariantSubtreeKeyContainment(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if err := root.MakeFolder(ctx, "/proj/sub", true); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := root.WriteText(ctx, "/proj/top.txt", "top", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := root.WriteText(ctx, "/proj/sub/deep.txt", "deep", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	sub, err := root.ReadonlySubRoot(ctx, "/proj")
	if err != nil {
		t.Fatalf("ReadonlySubRoot: %v", err)
	}
	top, _, err := sub.ReadBytes(ctx, "/top.txt", nil, nil)
	if err != nil {
		t.Fatalf("sub read top: %v", err)
	}
	if string(top) != "top" {
		t.Fatalf("top content = %q", top)
	}
	deep, _, err := sub.ReadBytes(ctx, "/sub/deep.txt", nil, nil)
	if err != nil {
		t.Fatalf("sub read deep: %v", err)
	}
	if string(deep) != "deep" {
		t.Fatalf("deep content = %q", deep)
	}
	if _, err := sub.WriteBytes(ctx, "/top.txt", []byte("x"), evfs.WriteFlags{}); err == nil {
		t.Fatal("expected readonly sub-root to reject writes")
	}
}

// Invariant 6: close idempotence.
func TestInvariantCloseIdempotence(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/a", "x", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := root.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := root.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if _, _, err := root.ReadBytes(ctx, "/a", nil, nil); !evfs.IsStorageClosed(err) {
		t.Fatalf("expected storage-closed after Close, got %v", err)
	}
}
