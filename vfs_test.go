package evfs_test

import (
	"context"
	"testing"

	"github.com/privfs/evfs"
)

func TestWriteJSONReadJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	in := payload{Name: "widgets", Count: 3}
	if _, err := root.WriteJSON(ctx, "/p.json", in, evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var out payload
	if _, err := root.ReadJSON(ctx, "/p.json", &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestReadJSONOnMalformedContentIsParsingError(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/bad.json", "{not json", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out map[string]any
	_, err := root.ReadJSON(ctx, "/bad.json", &out)
	if !evfs.Is(err, evfs.EParsing) {
		t.Fatalf("expected parsing-error, got %v", err)
	}
}

func TestReadBytesRange(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/r", "0123456789", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	start, end := int64(2), int64(5)
	got, _, err := root.ReadBytes(ctx, "/r", &start, &end)
	if err != nil {
		t.Fatalf("ReadBytes range: %v", err)
	}
	if string(got) != "234" {
		t.Fatalf("range read = %q, want %q", got, "234")
	}
}

func TestDeleteFileThenReadIsNotFound(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/f", "x", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := root.DeleteFile(ctx, "/f"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, _, err := root.ReadBytes(ctx, "/f", nil, nil); !evfs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestLinkToFileAndReadLink(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/target.txt", "payload", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	params, err := root.GetLinkParams(ctx, "/target.txt")
	if err != nil {
		t.Fatalf("GetLinkParams: %v", err)
	}
	if !params.IsFile() {
		t.Fatalf("expected a file-shaped link target, got %+v", params)
	}

	if err := root.Link(ctx, "/alias.txt", params); err != nil {
		t.Fatalf("Link: %v", err)
	}
	got, err := root.ReadLink(ctx, "/alias.txt")
	if err != nil {
		t.Fatalf("ReadLink: %v", err)
	}
	if got.File == nil || got.File.ObjID != params.File.ObjID {
		t.Fatalf("ReadLink params = %+v, want target %+v", got, params)
	}
}

func TestCopyFolderRecursive(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if err := root.MakeFolder(ctx, "/src/nested", true); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := root.WriteText(ctx, "/src/top.txt", "top", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write top: %v", err)
	}
	if _, err := root.WriteText(ctx, "/src/nested/deep.txt", "deep", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write deep: %v", err)
	}

	if err := root.CopyFolder(ctx, "/src", "/dst", false); err != nil {
		t.Fatalf("CopyFolder: %v", err)
	}

	top, _, err := root.ReadText(ctx, "/dst/top.txt")
	if err != nil || top != "top" {
		t.Fatalf("dst/top.txt = %q, %v", top, err)
	}
	deep, _, err := root.ReadText(ctx, "/dst/nested/deep.txt")
	if err != nil || deep != "deep" {
		t.Fatalf("dst/nested/deep.txt = %q, %v", deep, err)
	}
	// the source subtree must be untouched by the copy.
	srcTop, _, err := root.ReadText(ctx, "/src/top.txt")
	if err != nil || srcTop != "top" {
		t.Fatalf("src/top.txt after copy = %q, %v", srcTop, err)
	}
}

func TestSaveFileBetweenRoots(t *testing.T) {
	ctx := context.Background()
	a := newTestRoot(t)
	b := newTestRoot(t)

	if _, err := a.WriteText(ctx, "/export.txt", "cross-root", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.SaveFile(ctx, a, "/export.txt", "/import.txt"); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	text, _, err := b.ReadText(ctx, "/import.txt")
	if err != nil {
		t.Fatalf("read imported: %v", err)
	}
	if text != "cross-root" {
		t.Fatalf("imported content = %q, want cross-root", text)
	}
}

func TestStatReportsKindAndSize(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if _, err := root.WriteText(ctx, "/s.txt", "12345", evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := root.Stat(ctx, "/s.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Kind != evfs.KindFile {
		t.Fatalf("Kind = %v, want KindFile", st.Kind)
	}
	if st.Size != 5 {
		t.Fatalf("Size = %d, want 5", st.Size)
	}
}

func TestWritableSubRootAllowsWrites(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)
	if err := root.MakeFolder(ctx, "/ws", true); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sub, err := root.WritableSubRoot(ctx, "/ws", false)
	if err != nil {
		t.Fatalf("WritableSubRoot: %v", err)
	}
	if _, err := sub.WriteBytes(ctx, "/a.txt", []byte("via sub"), evfs.WriteFlags{Create: true}); err != nil {
		t.Fatalf("sub write: %v", err)
	}
	text, _, err := root.ReadText(ctx, "/ws/a.txt")
	if err != nil {
		t.Fatalf("read via root: %v", err)
	}
	if text != "via sub" {
		t.Fatalf("content = %q, want %q", text, "via sub")
	}
}
