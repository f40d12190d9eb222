package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"io"
)

// RandReader is the process-wide CSPRNG source. Tests may swap it out for a
// deterministic reader; production code must never do so.
var RandReader io.Reader = rand.Reader

// RandomBytes returns n cryptographically random bytes read from RandReader.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(RandReader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SecretBytes wraps a byte slice holding private material (mnemonic, seed,
// blinding factor, derived scalar) and guarantees it is wiped on Destroy.
// Callers are expected to call Destroy as soon as the secret is no longer
// needed; Go has no destructors, so this is explicit rather than automatic.
type SecretBytes struct {
	b []byte
}

// NewSecretBytes takes ownership of b; callers must not retain their own
// reference to the backing array after calling this.
func NewSecretBytes(b []byte) *SecretBytes {
	return &SecretBytes{b: b}
}

// Bytes returns the wrapped secret. The returned slice aliases internal
// storage and becomes invalid after Destroy.
func (s *SecretBytes) Bytes() []byte {
	return s.b
}

// Destroy overwrites the backing array (zero, then random, then zero) and
// releases the reference.
func (s *SecretBytes) Destroy() {
	Wipe(s.b)
	s.b = nil
}

// Wipe overwrites b in place with a zero/random/zero pass. Best-effort: the
// Go runtime offers no guarantee the compiler won't have copied the slice
// elsewhere, but this defends against the common case of a single
// live backing array.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	_, _ = io.ReadFull(rand.Reader, b)
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeEqual compares two byte slices in constant time with respect
// to their contents (not their lengths).
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// HMACSHA512 computes HMAC-SHA-512(key, data).
func HMACSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// SealAESGCM encrypts plaintext with a random 12-byte nonce under
// AES-256-GCM, authenticating associatedData, and returns nonce||ciphertext.
func SealAESGCM(key, plaintext, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, associatedData)
	return append(nonce, ciphertext...), nil
}

// OpenAESGCM reverses SealAESGCM.
func OpenAESGCM(key, sealed, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, associatedData)
}
