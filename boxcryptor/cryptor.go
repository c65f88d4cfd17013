package boxcryptor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/privfs/evfs"
)

// Cryptor is the reference evfs.Cryptor implementation: a segmented AEAD
// box bound to a single CipherSuite and a bounded worker pool for
// Schedule. Grounded on the teacher's AESGCMEngine/ChaCha20Poly1305Engine
// pair (cipher.go) and its parallel.go worker pool, generalized from
// filesystem-walk chunk encryption to the evfs.Cryptor port's six methods.
type Cryptor struct {
	suite CipherSuite
	pool  *workerPool
}

// New builds a Cryptor for suite with the given worker pool size. A
// workers value <= 0 falls back to DefaultWorkers.
func New(suite CipherSuite, workers int) *Cryptor {
	return &Cryptor{suite: suite, pool: newWorkerPool(workers)}
}

func (c *Cryptor) MakeSegmentsWriter(ctx context.Context, key, headerNonce []byte, w io.Writer) (evfs.SegmentsWriter, error) {
	return newSegmentsWriter(c.suite, key, headerNonce, w)
}

func (c *Cryptor) MakeSegmentsReader(ctx context.Context, key, headerNonce []byte, r io.Reader) (evfs.SegmentsReader, error) {
	return newSegmentsReader(c.suite, key, headerNonce, r)
}

// MakeObjSourceFromArrays wraps already-encrypted segment records (each a
// complete wire record as segmentsWriter produces) into an in-memory
// ObjSource, for tests and for storage backends that keep small objects as
// plain byte slices.
func (c *Cryptor) MakeObjSourceFromArrays(key, headerNonce []byte, version evfs.Version, header []byte, segments [][]byte) (evfs.ObjSource, error) {
	body := new(bytes.Buffer)
	for _, seg := range segments {
		body.Write(seg)
	}
	return &memObjSource{version: version, header: header, body: body.Bytes()}, nil
}

// MakeEncryptingObjSource seals every writeSegment-framed record found in
// plaintext (read to completion) into its own wire segment, producing a
// ready in-memory ObjSource in one pass. This is the one-shot counterpart
// of streaming a record at a time through MakeSegmentsWriter, used by
// NodePersistence.WriteWhole for payloads that fit entirely in memory.
func (c *Cryptor) MakeEncryptingObjSource(ctx context.Context, key, headerNonce []byte, version evfs.Version, header []byte, plaintext io.Reader) (evfs.ObjSource, error) {
	out := new(bytes.Buffer)
	sw, err := newSegmentsWriter(c.suite, key, headerNonce, out)
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(plaintext)
	if err != nil {
		return nil, fmt.Errorf("boxcryptor: reading plaintext: %w", err)
	}
	for off := 0; off < len(raw); {
		if len(raw)-off < segmentLengthPrefixSize {
			return nil, fmt.Errorf("boxcryptor: trailing bytes too short for a record header")
		}
		size := binary.LittleEndian.Uint32(raw[off : off+segmentLengthPrefixSize])
		end := off + segmentLengthPrefixSize + int(size)
		if end > len(raw) {
			return nil, fmt.Errorf("boxcryptor: record length %d overruns plaintext buffer", size)
		}
		if err := sw.WriteNext(ctx, raw[off:end]); err != nil {
			return nil, err
		}
		off = end
	}
	if err := sw.Close(ctx); err != nil {
		return nil, err
	}
	return &memObjSource{version: version, header: header, body: out.Bytes()}, nil
}

// MakeDecryptedByteSource decrypts every remaining segment of src (after
// the meta segment NodePersistence.ReadPayload already consumed from its
// own SegmentsReader) into one contiguous plaintext buffer, cached for
// random-access ReadAt. This trades true random access within a single
// encrypted object — the teacher's indexed chunk table supported direct
// seeks — for the much simpler append-only segment stream evfs's
// streamingSink (persistence.go) produces; see DESIGN.md.
func (c *Cryptor) MakeDecryptedByteSource(ctx context.Context, key, headerNonce []byte, src evfs.ObjSource) (evfs.ByteSource, error) {
	return &lazyByteSource{ctx: ctx, cryptor: c, key: key, nonce: headerNonce, src: src}, nil
}

// Schedule runs fn on the cryptor's bounded worker pool, blocking the
// caller until a slot is free and fn has returned (or ctx is done).
// Grounded on the teacher's parallel.go chunk worker pool, generalized
// from a fixed chunk-array fan-out to a general-purpose job submission.
func (c *Cryptor) Schedule(ctx context.Context, label string, fn func(context.Context) error) error {
	return c.pool.run(ctx, fn)
}

// memObjSource is the in-memory ObjSource both MakeObjSourceFromArrays and
// MakeEncryptingObjSource return.
type memObjSource struct {
	version evfs.Version
	header  []byte
	body    []byte
}

func (m *memObjSource) Version() evfs.Version { return m.version }

func (m *memObjSource) ReadHeader(ctx context.Context) ([]byte, error) { return m.header, nil }

func (m *memObjSource) SegmentBytes(ctx context.Context) (io.Reader, error) {
	return bytes.NewReader(m.body), nil
}

// lazyByteSource defers decrypting src's content segments until the first
// ReadAt call, then serves every subsequent call from the cached plaintext.
type lazyByteSource struct {
	ctx     context.Context
	cryptor *Cryptor
	key     []byte
	nonce   []byte
	src     evfs.ObjSource

	decoded bool
	plain   []byte
	decErr  error
}

func (b *lazyByteSource) decode(ctx context.Context) ([]byte, error) {
	if b.decoded {
		return b.plain, b.decErr
	}
	b.decoded = true

	raw, err := b.src.SegmentBytes(ctx)
	if err != nil {
		b.decErr = err
		return nil, err
	}
	reader, err := newSegmentsReader(b.cryptor.suite, b.key, b.nonce, raw)
	if err != nil {
		b.decErr = err
		return nil, err
	}

	// The first segment is NodePersistence's meta record; content, if any,
	// follows as one or more additional segments (one per WriteSink.Write
	// call, or a single one for WriteWhole).
	if _, err := reader.ReadNext(ctx); err != nil {
		if err == io.EOF {
			b.plain = nil
			return b.plain, nil
		}
		b.decErr = err
		return nil, err
	}

	buf := new(bytes.Buffer)
	for {
		seg, err := reader.ReadNext(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			b.decErr = err
			return nil, err
		}
		buf.Write(seg)
	}
	b.plain = buf.Bytes()
	return b.plain, nil
}

func (b *lazyByteSource) Size() int64 {
	plain, err := b.decode(b.ctx)
	if err != nil {
		return 0
	}
	return int64(len(plain))
}

func (b *lazyByteSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	plain, err := b.decode(ctx)
	if err != nil {
		return 0, err
	}
	if off >= int64(len(plain)) {
		return 0, io.EOF
	}
	n := copy(p, plain[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
