package evfs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Wire framing constants for the plaintext header NodePersistence writes
// ahead of every object's encrypted segments. Mirrors the
// magic/version/cipher-id/nonce layout of a conventional encrypted-file
// header, generalized here to the meta-segment-then-content-segments shape
// every node kind shares.
const (
	frameMagic          uint32 = 0x45564653 // ASCII "EVFS"
	frameFormatVersion  uint8  = 1
	headerNonceSize            = 16
	minFrameHeaderBytes        = 4 + 1 + 1 + 2 // magic + version + cipherID + nonceSize
)

var errBadFrameHeader = errBadArg("malformed object header")

// headerNonce deterministically derives the per-object header nonce from
// masterSalt, objID and cipherID: two writes of the same object under the
// same cipher always produce the same nonce.
// HMAC-SHA256 stands in here for the teacher's SIV/S2V deterministic MAC;
// full RFC 5297 AES-SIV is not needed since this is not protecting a
// filename, only binding a nonce to an object identity (see DESIGN.md).
func headerNonce(masterSalt []byte, objID ObjectID, cipherID uint8) []byte {
	mac := hmac.New(sha256.New, masterSalt)
	mac.Write([]byte(objID))
	mac.Write([]byte{cipherID})
	sum := mac.Sum(nil)
	return sum[:headerNonceSize]
}

// buildFrameHeader renders the plaintext header bytes preceding a node's
// encrypted segments.
func buildFrameHeader(cipherID uint8, nonce []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, frameMagic)
	binary.Write(buf, binary.LittleEndian, frameFormatVersion)
	binary.Write(buf, binary.LittleEndian, cipherID)
	binary.Write(buf, binary.LittleEndian, uint16(len(nonce)))
	buf.Write(nonce)
	return buf.Bytes()
}

// parseFrameHeader validates and extracts the header nonce from raw header
// bytes.
func parseFrameHeader(raw []byte) (nonce []byte, cipherID uint8, err error) {
	if len(raw) < minFrameHeaderBytes {
		return nil, 0, errBadFrameHeader
	}
	r := bytes.NewReader(raw)
	var magic uint32
	var version uint8
	var nonceSize uint16
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, 0, errBadFrameHeader
	}
	if magic != frameMagic {
		return nil, 0, fmt.Errorf("%w: bad magic", errBadFrameHeader)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, errBadFrameHeader
	}
	if version > frameFormatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported format version %d", errBadFrameHeader, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &cipherID); err != nil {
		return nil, 0, errBadFrameHeader
	}
	if err := binary.Read(r, binary.LittleEndian, &nonceSize); err != nil {
		return nil, 0, errBadFrameHeader
	}
	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, 0, errBadFrameHeader
	}
	return nonce, cipherID, nil
}

// Payload is the decrypted view NodePersistence.ReadPayload hands back: the
// kind-specific metadata segment plus, for file nodes, a lazy content byte
// source.
type Payload struct {
	Version Version
	Meta    []byte
	Content ByteSource
}

// nodePersistence binds a Cryptor and a filesystem-wide master salt into the
// read/write operations every node kind shares. It never stores node keys;
// callers supply the node's own key on every call.
type nodePersistence struct {
	cryptor    Cryptor
	masterSalt []byte
	cipherID   uint8
}

func newNodePersistence(cryptor Cryptor, masterSalt []byte, cipherID uint8) *nodePersistence {
	return &nodePersistence{cryptor: cryptor, masterSalt: masterSalt, cipherID: cipherID}
}

// ReadPayload decrypts header and meta segment, and wraps any remaining
// content segments behind a lazy ByteSource.
func (p *nodePersistence) ReadPayload(ctx context.Context, key []byte, objID ObjectID, src ObjSource) (*Payload, error) {
	header, err := src.ReadHeader(ctx)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	nonce, _, err := parseFrameHeader(header)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	raw, err := src.SegmentBytes(ctx)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	segReader, err := p.cryptor.MakeSegmentsReader(ctx, key, nonce, raw)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	metaSeg, err := segReader.ReadNext(ctx)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	bs, err := p.cryptor.MakeDecryptedByteSource(ctx, key, nonce, src)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	return &Payload{Version: src.Version(), Meta: metaSeg, Content: bs}, nil
}

// WriteWhole encrypts meta and content as a two-segment object (meta only
// when content is empty) and returns
// the Subscribe handle Storage.SaveObj consumes, for nodes whose entire
// payload fits in memory (folders, links, and File.save).
func (p *nodePersistence) WriteWhole(ctx context.Context, key []byte, objID ObjectID, meta, content []byte) (Subscribe, error) {
	nonce := headerNonce(p.masterSalt, objID, p.cipherID)
	header := buildFrameHeader(p.cipherID, nonce)

	plain := new(bytes.Buffer)
	writeSegment(plain, meta)
	if len(content) > 0 {
		writeSegment(plain, content)
	}
	obj, err := p.cryptor.MakeEncryptingObjSource(ctx, key, nonce, VersionUnknown, header, plain)
	if err != nil {
		return nil, ErrIO(string(objID), err)
	}
	return objSourceSubscribe(ctx, obj)
}

// WriteSink opens a streaming content sink for FileNode's write_sink
// protocol: meta is written eagerly (it is always small), content segments
// are emitted as the caller writes to the returned sink. The returned
// Subscribe feeds Storage.SaveObj in lockstep with the caller's writes.
func (p *nodePersistence) WriteSink(ctx context.Context, key []byte, objID ObjectID, meta []byte) (*streamingSink, Subscribe, error) {
	nonce := headerNonce(p.masterSalt, objID, p.cipherID)
	header := buildFrameHeader(p.cipherID, nonce)

	sink := newStreamingSink(ctx, p.cryptor, key, nonce, header, meta)
	return sink, sink.subscribe(), nil
}

// writeSegment frames a plaintext segment with a 4-byte little-endian
// length prefix ahead of the raw bytes, the unit Cryptor treats as one
// "segment" to encrypt.
func writeSegment(w *bytes.Buffer, seg []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(seg)))
	w.Write(lenBuf[:])
	w.Write(seg)
}

// objSourceSubscribe adapts a ready ObjSource's raw encrypted bytes into a
// Subscribe feed, for the one-shot WriteWhole path.
func objSourceSubscribe(ctx context.Context, obj ObjSource) (Subscribe, error) {
	raw, err := obj.SegmentBytes(ctx)
	if err != nil {
		return nil, err
	}
	header, err := obj.ReadHeader(ctx)
	if err != nil {
		return nil, err
	}
	sent := false
	buf := make([]byte, 32*1024)
	return SubscribeFunc(func(ctx context.Context) ([]byte, error) {
		if !sent {
			sent = true
			return header, nil
		}
		n, err := raw.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}), nil
}

// encodeMeta renders a kind-specific metadata value as the JSON bytes
// stored in a node's meta segment.
func encodeMeta(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeMeta parses a node's meta segment into dst.
func decodeMeta(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrParsing("", err)
	}
	return nil
}

// streamingSink implements FileNode's write_sink rendezvous: plaintext
// written by the caller is handed to a background goroutine that owns the
// Cryptor's SegmentsWriter, which in turn feeds an io.Pipe that subscribe()
// drains into Storage.SaveObj. Grounded on the teacher's goroutine +
// channel fan-out in parallel.go, generalized from parallel chunk encryption
// to a single ordered streaming pipe.
type streamingSink struct {
	ctx    context.Context
	header []byte

	in     chan []byte
	result chan error
	size   int64

	pw *io.PipeWriter
	pr *io.PipeReader
}

func newStreamingSink(ctx context.Context, cryptor Cryptor, key, nonce, header, meta []byte) *streamingSink {
	pr, pw := io.Pipe()
	s := &streamingSink{
		ctx:    ctx,
		header: header,
		in:     make(chan []byte),
		result: make(chan error, 1),
		pw:     pw,
		pr:     pr,
	}
	go s.run(cryptor, key, nonce, meta)
	return s
}

func (s *streamingSink) run(cryptor Cryptor, key, nonce, meta []byte) {
	segWriter, err := cryptor.MakeSegmentsWriter(s.ctx, key, nonce, s.pw)
	if err != nil {
		s.pw.CloseWithError(err)
		s.result <- err
		return
	}

	metaFramed := new(bytes.Buffer)
	writeSegment(metaFramed, meta)
	if err := segWriter.WriteNext(s.ctx, metaFramed.Bytes()); err != nil {
		s.pw.CloseWithError(err)
		s.result <- err
		return
	}

	var finalErr error
	for chunk := range s.in {
		framed := new(bytes.Buffer)
		writeSegment(framed, chunk)
		if err := segWriter.WriteNext(s.ctx, framed.Bytes()); err != nil {
			finalErr = err
			break
		}
		s.size += int64(len(chunk))
	}
	if finalErr == nil {
		finalErr = segWriter.Close(s.ctx)
	}
	if finalErr != nil {
		s.pw.CloseWithError(finalErr)
	} else {
		s.pw.Close()
	}
	s.result <- finalErr
}

// Write implements io.Writer by handing a copy of p to the background
// segment-writer goroutine. That goroutine writes into an unbuffered pipe
// drained by Storage.SaveObj, so Write proceeds at the pace of both.
func (s *streamingSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case s.in <- cp:
		return len(p), nil
	case <-s.ctx.Done():
		return 0, s.ctx.Err()
	}
}

// Done signals end-of-input and waits for the background encryptor to
// finish. A non-nil err aborts the write regardless of the background
// goroutine's own outcome: the pipe is closed with err, so Storage.SaveObj
// fails and FileNode never commits a new version in that case.
func (s *streamingSink) Done(ctx context.Context, err error) error {
	if err != nil {
		s.pw.CloseWithError(err)
	}
	close(s.in)
	workErr := <-s.result
	if err != nil {
		return err
	}
	return workErr
}

// Size reports plaintext bytes accepted so far. Valid to call only after
// Done has returned.
func (s *streamingSink) Size() int64 { return s.size }

// subscribe returns the Subscribe feed Storage.SaveObj drains: the frame
// header, then the raw encrypted bytes run() produces on the pipe.
func (s *streamingSink) subscribe() Subscribe {
	headerSent := false
	buf := make([]byte, 32*1024)
	return SubscribeFunc(func(ctx context.Context) ([]byte, error) {
		if !headerSent {
			headerSent = true
			return s.header, nil
		}
		n, err := s.pr.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			if err != nil && err != io.EOF {
				return out, err
			}
			return out, nil
		}
		if err == nil {
			err = io.EOF
		}
		return nil, err
	})
}
