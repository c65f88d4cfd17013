package boxcryptor

import "fmt"

// ValidationError reports a single malformed input to the cryptor, with
// enough structure for a caller to act on programmatically rather than
// string-matching Error().
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("boxcryptor: %s: %s", e.Field, e.Message)
}

// ValidateKey checks a key is exactly expectedSize bytes.
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{Field: "key", Message: "key cannot be nil"}
	}
	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
		}
	}
	return nil
}

// ValidateNonce checks nonce has the size suite's AEAD requires.
func ValidateNonce(nonce []byte, suite CipherSuite) error {
	if nonce == nil {
		return &ValidationError{Field: "nonce", Message: "nonce cannot be nil"}
	}
	switch suite {
	case CipherAES256GCM, CipherChaCha20Poly1305:
		const expected = 12
		if len(nonce) < expected {
			return &ValidationError{
				Field:   "nonce",
				Value:   len(nonce),
				Message: fmt.Sprintf("nonce too short for %s: got %d bytes, need at least %d", suite, len(nonce), expected),
			}
		}
	default:
		return &ValidationError{Field: "cipher", Value: suite, Message: "unsupported cipher suite"}
	}
	return nil
}

// ValidateBuffer checks buf is non-nil and at least minSize bytes.
func ValidateBuffer(buf []byte, name string, minSize int) error {
	if buf == nil {
		return &ValidationError{Field: name, Message: "buffer cannot be nil"}
	}
	if minSize > 0 && len(buf) < minSize {
		return &ValidationError{
			Field:   name,
			Value:   len(buf),
			Message: fmt.Sprintf("buffer too small: got %d bytes, need at least %d bytes", len(buf), minSize),
		}
	}
	return nil
}

// ValidateOffset checks offset is non-negative.
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return &ValidationError{Field: name, Value: offset, Message: "offset cannot be negative"}
	}
	return nil
}
