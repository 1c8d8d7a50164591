// Package crypto seals provider API keys for storage. Keys are encrypted
// with ChaCha20-Poly1305 under a key derived from the application secret,
// and the sealed form is base64url so it fits a TEXT column on any dialect.
package crypto

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates the sealing key from other uses of the app secret.
const hkdfInfo = "loom/provider-config/v1"

// ErrSealedCorrupt is returned when a stored value cannot be authenticated,
// either because it was tampered with or the app secret changed.
var ErrSealedCorrupt = errors.New("crypto: sealed value corrupt or key mismatch")

// Cipher seals and opens short secrets such as provider API keys.
type Cipher struct {
	aead stdcipher.AEAD
}

// NewCipher derives the sealing key from the application secret via
// HKDF-SHA256 and prepares the AEAD.
func NewCipher(appSecret Secret) (*Cipher, error) {
	if appSecret.IsZero() {
		return nil, errors.New("crypto: app secret is empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(appSecret.Reveal()), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64url(nonce || ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(encoded string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrSealedCorrupt
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return "", ErrSealedCorrupt
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrSealedCorrupt
	}
	return string(plain), nil
}
