package boxcryptor

import "testing"

func TestValidateKey(t *testing.T) {
	if err := ValidateKey(nil, 32); err == nil {
		t.Fatal("expected error for nil key")
	}
	if err := ValidateKey(make([]byte, 16), 32); err == nil {
		t.Fatal("expected error for wrong-size key")
	}
	if err := ValidateKey(make([]byte, 32), 32); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNonce(t *testing.T) {
	if err := ValidateNonce(nil, CipherAES256GCM); err == nil {
		t.Fatal("expected error for nil nonce")
	}
	if err := ValidateNonce(make([]byte, 4), CipherChaCha20Poly1305); err == nil {
		t.Fatal("expected error for too-short nonce")
	}
	if err := ValidateNonce(make([]byte, 16), CipherChaCha20Poly1305); err != nil {
		t.Fatalf("unexpected error for a longer-than-minimum nonce: %v", err)
	}
	if err := ValidateNonce(make([]byte, 12), CipherSuite(99)); err == nil {
		t.Fatal("expected error for unsupported cipher suite")
	}
}

func TestValidateBuffer(t *testing.T) {
	if err := ValidateBuffer(nil, "buf", 0); err == nil {
		t.Fatal("expected error for nil buffer")
	}
	if err := ValidateBuffer(make([]byte, 2), "buf", 4); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
	if err := ValidateBuffer(make([]byte, 4), "buf", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOffset(t *testing.T) {
	if err := ValidateOffset(-1, "off"); err == nil {
		t.Fatal("expected error for negative offset")
	}
	if err := ValidateOffset(0, "off"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
