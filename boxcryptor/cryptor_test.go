package boxcryptor

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/privfs/evfs"
)

func frameRecord(payload []byte) []byte {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
	return buf.Bytes()
}

func TestAEADEngineRoundTrip(t *testing.T) {
	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		key := make([]byte, 32)
		for i := range key {
			key[i] = byte(i)
		}
		engine, err := newEngine(suite, key)
		if err != nil {
			t.Fatalf("%v: newEngine: %v", suite, err)
		}
		nonce := make([]byte, engine.nonceSize())
		plaintext := []byte("evfs segment payload")
		ciphertext := engine.seal(nonce, plaintext)

		got, err := engine.open(nonce, ciphertext)
		if err != nil {
			t.Fatalf("%v: open: %v", suite, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("%v: round trip mismatch: got %q want %q", suite, got, plaintext)
		}

		ciphertext[0] ^= 0xFF
		if _, err := engine.open(nonce, ciphertext); err == nil {
			t.Fatalf("%v: expected tamper detection to fail open", suite)
		}
	}
}

func TestSegmentsWriterReaderRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	headerNonce := make([]byte, headerNonceSizeForTest)
	for i := range headerNonce {
		headerNonce[i] = byte(i * 3)
	}

	var wire bytes.Buffer
	sw, err := newSegmentsWriter(CipherChaCha20Poly1305, key, headerNonce, &wire)
	if err != nil {
		t.Fatalf("newSegmentsWriter: %v", err)
	}
	records := [][]byte{[]byte("meta-segment"), []byte("content-chunk-one"), []byte("content-chunk-two")}
	for _, r := range records {
		if err := sw.WriteNext(context.Background(), frameRecord(r)); err != nil {
			t.Fatalf("WriteNext: %v", err)
		}
	}
	if err := sw.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sr, err := newSegmentsReader(CipherChaCha20Poly1305, key, headerNonce, bytes.NewReader(wire.Bytes()))
	if err != nil {
		t.Fatalf("newSegmentsReader: %v", err)
	}
	for _, want := range records {
		got, err := sr.ReadNext(context.Background())
		if err != nil {
			t.Fatalf("ReadNext: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("segment mismatch: got %q want %q", got, want)
		}
	}
	if _, err := sr.ReadNext(context.Background()); err == nil {
		t.Fatal("expected io.EOF after the last segment")
	}
}

// headerNonceSizeForTest mirrors evfs's headerNonceSize (16 bytes), which
// is unexported and so cannot be referenced from this package.
const headerNonceSizeForTest = 16

func TestCryptorEncryptingObjSourceRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	headerNonce := make([]byte, headerNonceSizeForTest)
	c := New(CipherAES256GCM, 2)

	meta := []byte(`{"size":0}`)
	content := []byte("hello, encrypted world")
	var plain bytes.Buffer
	plain.Write(frameRecord(meta))
	plain.Write(frameRecord(content))

	obj, err := c.MakeEncryptingObjSource(context.Background(), key, headerNonce, 1, []byte("header"), &plain)
	if err != nil {
		t.Fatalf("MakeEncryptingObjSource: %v", err)
	}
	if obj.Version() != 1 {
		t.Fatalf("version = %d, want 1", obj.Version())
	}
	h, err := obj.ReadHeader(context.Background())
	if err != nil || string(h) != "header" {
		t.Fatalf("ReadHeader = %q, %v", h, err)
	}

	raw, err := obj.SegmentBytes(context.Background())
	if err != nil {
		t.Fatalf("SegmentBytes: %v", err)
	}
	sr, err := c.MakeSegmentsReader(context.Background(), key, headerNonce, raw)
	if err != nil {
		t.Fatalf("MakeSegmentsReader: %v", err)
	}
	gotMeta, err := sr.ReadNext(context.Background())
	if err != nil || !bytes.Equal(gotMeta, meta) {
		t.Fatalf("meta segment = %q, %v", gotMeta, err)
	}

	raw2, err := obj.SegmentBytes(context.Background())
	if err != nil {
		t.Fatalf("SegmentBytes (second open): %v", err)
	}
	bs, err := c.MakeDecryptedByteSource(context.Background(), key, headerNonce, &fixedObjSource{version: 1, header: h, body: raw2})
	if err != nil {
		t.Fatalf("MakeDecryptedByteSource: %v", err)
	}
	if bs.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", bs.Size(), len(content))
	}
	got := make([]byte, len(content))
	if _, err := bs.ReadAt(context.Background(), got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}
}

// fixedObjSource replays a fixed body for SegmentBytes, standing in for a
// Storage-backed ObjSource in this package's own tests.
type fixedObjSource struct {
	version evfs.Version
	header  []byte
	body    io.Reader
}

func (f *fixedObjSource) Version() evfs.Version                       { return f.version }
func (f *fixedObjSource) ReadHeader(context.Context) ([]byte, error)  { return f.header, nil }
func (f *fixedObjSource) SegmentBytes(context.Context) (io.Reader, error) {
	return f.body, nil
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := newWorkerPool(2)
	var current, max int32
	done := make(chan struct{}, 8)

	for i := 0; i < 8; i++ {
		go func() {
			pool.run(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					m := atomic.LoadInt32(&max)
					if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if max > 2 {
		t.Fatalf("observed %d concurrent jobs, pool was sized for 2", max)
	}
}

func TestPasswordDeriverRoundTrip(t *testing.T) {
	d := NewPasswordDeriverArgon2id([]byte("correct horse battery staple"), Argon2idParams{Time: 1, Memory: 8 * 1024, Parallelism: 1})
	salt, err := d.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}

	rootKey1, masterSalt1, err := d.DeriveRootMaterial(salt)
	if err != nil {
		t.Fatalf("DeriveRootMaterial: %v", err)
	}
	rootKey2, masterSalt2, err := d.DeriveRootMaterial(salt)
	if err != nil {
		t.Fatalf("DeriveRootMaterial (again): %v", err)
	}
	if !bytes.Equal(rootKey1, rootKey2) || !bytes.Equal(masterSalt1, masterSalt2) {
		t.Fatal("deriving twice from the same salt must be deterministic")
	}
	if bytes.Equal(rootKey1, masterSalt1) {
		t.Fatal("root key and master salt must be independently derived")
	}

	otherSalt, _ := d.GenerateSalt()
	rootKey3, _, err := d.DeriveRootMaterial(otherSalt)
	if err != nil {
		t.Fatalf("DeriveRootMaterial (other salt): %v", err)
	}
	if bytes.Equal(rootKey1, rootKey3) {
		t.Fatal("different salts must not collide")
	}
}
