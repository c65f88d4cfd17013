package boxcryptor

import "errors"

// errAuthFailed is returned whenever an AEAD open fails: wrong key, wrong
// nonce, or tampered ciphertext are indistinguishable by design.
var errAuthFailed = errors.New("boxcryptor: ciphertext authentication failed")
