package memstore

import (
	"context"
	"io"
	"testing"

	"github.com/privfs/evfs"
)

type fakeSubscribe struct {
	chunks [][]byte
	i      int
}

func (f *fakeSubscribe) Next(ctx context.Context) ([]byte, error) {
	if f.i >= len(f.chunks) {
		return nil, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	if f.i == len(f.chunks) {
		return c, io.EOF
	}
	return c, nil
}

func TestStoreSaveAndGetRoundTrip(t *testing.T) {
	s := New(evfs.StorageLocal, nil)
	ctx := context.Background()
	id := evfs.ObjectID("obj-1")

	sub := &fakeSubscribe{chunks: [][]byte{[]byte("HEADER"), []byte("body-part-1"), []byte("body-part-2")}}
	if err := s.SaveObj(ctx, id, 1, sub); err != nil {
		t.Fatalf("SaveObj: %v", err)
	}

	obj, err := s.GetObj(ctx, id)
	if err != nil {
		t.Fatalf("GetObj: %v", err)
	}
	if obj.Version() != 1 {
		t.Fatalf("version = %d, want 1", obj.Version())
	}
	h, err := obj.ReadHeader(ctx)
	if err != nil || string(h) != "HEADER" {
		t.Fatalf("ReadHeader = %q, %v", h, err)
	}
	body, err := obj.SegmentBytes(ctx)
	if err != nil {
		t.Fatalf("SegmentBytes: %v", err)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(got) != "body-part-1body-part-2" {
		t.Fatalf("body = %q", got)
	}
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	s := New(evfs.StorageLocal, nil)
	_, err := s.GetObj(context.Background(), evfs.ObjectID("nope"))
	if !evfs.IsNotFound(err) {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestStoreSaveObjRejectsVersionSkip(t *testing.T) {
	s := New(evfs.StorageLocal, nil)
	ctx := context.Background()
	id := evfs.ObjectID("obj-2")

	if err := s.SaveObj(ctx, id, 1, &fakeSubscribe{chunks: [][]byte{[]byte("h"), []byte("v1")}}); err != nil {
		t.Fatalf("SaveObj v1: %v", err)
	}
	err := s.SaveObj(ctx, id, 3, &fakeSubscribe{chunks: [][]byte{[]byte("h"), []byte("v3")}})
	if !evfs.Is(err, evfs.EConcurrent) {
		t.Fatalf("expected concurrent-update, got %v", err)
	}

	if err := s.SaveObj(ctx, id, 2, &fakeSubscribe{chunks: [][]byte{[]byte("h"), []byte("v2")}}); err != nil {
		t.Fatalf("SaveObj v2 (correct next version): %v", err)
	}
}

func TestStoreGenerateNewObjIDNeverReturnsRoot(t *testing.T) {
	s := New(evfs.StorageLocal, nil)
	for i := 0; i < 50; i++ {
		id, err := s.GenerateNewObjID(context.Background())
		if err != nil {
			t.Fatalf("GenerateNewObjID: %v", err)
		}
		if id == evfs.RootObjectID {
			t.Fatal("GenerateNewObjID returned the reserved root id")
		}
	}
}

func TestStoreNodeEventsPublishAndReceive(t *testing.T) {
	s := New(evfs.StorageLocal, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.NodeEvents(ctx)
	if err != nil {
		t.Fatalf("NodeEvents: %v", err)
	}

	want := evfs.NodeEvent{ObjID: evfs.ObjectID("folder-1"), Event: evfs.StoreEvent{Kind: evfs.EvEntryAddition, Name: "a.txt"}}
	if err := s.PublishNodeEvent(ctx, want); err != nil {
		t.Fatalf("PublishNodeEvent: %v", err)
	}

	select {
	case got := <-ch:
		if got.ObjID != want.ObjID || got.Event.Name != want.Event.Name {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	default:
		t.Fatal("expected a buffered event to be immediately readable")
	}
}

func TestStoreNodeEventsClosesOnContextDone(t *testing.T) {
	s := New(evfs.StorageLocal, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.NodeEvents(ctx)
	if err != nil {
		t.Fatalf("NodeEvents: %v", err)
	}
	cancel()
	for range ch {
	}
}
