package boxcryptor

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire format for the encrypted segment stream written after a node's
// plaintext frame header: a sequence of
//
//	[4-byte LE ciphertext length][ciphertext || AEAD tag]
//
// records, one per WriteNext/ReadNext call, until the underlying reader is
// exhausted. Grounded on the teacher's segment_format.go chunk framing,
// simplified from an indexed, seekable chunk table (the teacher supported
// random-access chunk lookup within a single encrypted file) down to a plain
// append-only record stream, since random access here is provided one layer
// up by MakeDecryptedByteSource caching the fully-decrypted plaintext.
const segmentLengthPrefixSize = 4

// maxSegmentSize bounds a single record so a corrupt or hostile length
// prefix can't make a reader allocate unboundedly.
const maxSegmentSize = 64 << 20 // 64 MiB

// deriveSegmentNonce produces the AEAD nonce for segment index, folding the
// index into the low 8 bytes of the node's header nonce so every segment of
// every object gets a distinct nonce under the same key without persisting
// one nonce per segment.
func deriveSegmentNonce(headerNonce []byte, size int, index uint64) []byte {
	nonce := make([]byte, size)
	copy(nonce, headerNonce[:size])
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], index)
	base := size - 8
	if base < 0 {
		base = 0
	}
	for i := 0; i < 8 && base+i < size; i++ {
		nonce[base+i] ^= ctr[i]
	}
	return nonce
}

type segmentsWriter struct {
	w      io.Writer
	engine *aeadEngine
	nonce  []byte
	index  uint64
}

func newSegmentsWriter(suite CipherSuite, key, headerNonce []byte, w io.Writer) (*segmentsWriter, error) {
	engine, err := newEngine(suite, key)
	if err != nil {
		return nil, err
	}
	if len(headerNonce) < engine.nonceSize() {
		return nil, fmt.Errorf("boxcryptor: header nonce too short for %v (need %d, got %d)", suite, engine.nonceSize(), len(headerNonce))
	}
	return &segmentsWriter{w: w, engine: engine, nonce: headerNonce}, nil
}

// WriteNext takes one NodePersistence-framed record — a 4-byte little-endian
// payload length followed by that many payload bytes, exactly what
// writeSegment produces — strips the framing, and seals only the payload.
// The outer framing is NodePersistence's concern for marking logical
// segment boundaries within a plaintext stream; it is never itself part of
// what gets encrypted, since ReadNext hands the decrypted payload straight
// back without it.
func (s *segmentsWriter) WriteNext(ctx context.Context, plaintext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := stripRecordFraming(plaintext)
	if err != nil {
		return err
	}

	nonce := deriveSegmentNonce(s.nonce, s.engine.nonceSize(), s.index)
	s.index++
	ciphertext := s.engine.seal(nonce, payload)

	var prefix [segmentLengthPrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(ciphertext)))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = s.w.Write(ciphertext)
	return err
}

// stripRecordFraming validates and removes a writeSegment-style [4-byte
// length][payload] wrapper, returning the bare payload.
func stripRecordFraming(record []byte) ([]byte, error) {
	if len(record) < segmentLengthPrefixSize {
		return nil, fmt.Errorf("boxcryptor: record shorter than its length prefix")
	}
	size := binary.LittleEndian.Uint32(record[:segmentLengthPrefixSize])
	payload := record[segmentLengthPrefixSize:]
	if uint32(len(payload)) != size {
		return nil, fmt.Errorf("boxcryptor: record length prefix %d does not match payload of %d bytes", size, len(payload))
	}
	return payload, nil
}

func (s *segmentsWriter) Close(ctx context.Context) error { return nil }

type segmentsReader struct {
	r      io.Reader
	engine *aeadEngine
	nonce  []byte
	index  uint64
}

func newSegmentsReader(suite CipherSuite, key, headerNonce []byte, r io.Reader) (*segmentsReader, error) {
	engine, err := newEngine(suite, key)
	if err != nil {
		return nil, err
	}
	if len(headerNonce) < engine.nonceSize() {
		return nil, fmt.Errorf("boxcryptor: header nonce too short for %v (need %d, got %d)", suite, engine.nonceSize(), len(headerNonce))
	}
	return &segmentsReader{r: r, engine: engine, nonce: headerNonce}, nil
}

func (s *segmentsReader) ReadNext(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var prefix [segmentLengthPrefixSize]byte
	if _, err := io.ReadFull(s.r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("boxcryptor: truncated segment length prefix: %w", err)
		}
		return nil, err
	}
	size := binary.LittleEndian.Uint32(prefix[:])
	if size > maxSegmentSize {
		return nil, fmt.Errorf("boxcryptor: segment of %d bytes exceeds maximum of %d", size, maxSegmentSize)
	}
	ciphertext := make([]byte, size)
	if _, err := io.ReadFull(s.r, ciphertext); err != nil {
		return nil, fmt.Errorf("boxcryptor: truncated segment body: %w", err)
	}

	nonce := deriveSegmentNonce(s.nonce, s.engine.nonceSize(), s.index)
	s.index++
	return s.engine.open(nonce, ciphertext)
}
