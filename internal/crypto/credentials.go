// Package crypto encrypts camera stream credentials at rest. Credentials
// are sealed with AES-256-GCM and bound to their camera ID through the
// additional authenticated data, so a blob copied onto another camera row
// fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	// ErrInvalidKeySize is returned when a key is not exactly 32 bytes.
	ErrInvalidKeySize = errors.New("crypto: invalid key size, must be 32 bytes")

	// ErrDecryption is returned when a blob fails to authenticate. The
	// underlying cipher error is deliberately not exposed.
	ErrDecryption = errors.New("crypto: decryption failed")

	// ErrBlobTooShort is returned for blobs shorter than nonce plus tag.
	ErrBlobTooShort = errors.New("crypto: ciphertext blob too short")
)

// CredentialCipher seals and opens credential blobs with a single
// process-wide key.
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher builds a cipher from a 32-byte key.
func NewCredentialCipher(key []byte) (*CredentialCipher, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CredentialCipher{aead: aead}, nil
}

// Seal encrypts plaintext bound to cameraID and returns a single
// base64-encoded blob of nonce || ciphertext || tag, the layout stored in
// the cameras table.
func (c *CredentialCipher) Seal(plaintext, cameraID string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(cameraID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal for the same cameraID. Any
// tampering, truncation or camera mismatch yields ErrDecryption; the
// caller learns nothing about which.
func (c *CredentialCipher) Open(blob, cameraID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryption
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrBlobTooShort
	}
	nonce, ciphertext := raw[:ns], raw[ns:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(cameraID))
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
