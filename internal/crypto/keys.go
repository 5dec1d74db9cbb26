package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

// ErrNoMasterKey is returned when neither key environment variable is set.
var ErrNoMasterKey = errors.New("crypto: CREDENTIALS_MASTER_KEY or SECRET_KEY must be set")

// Salt for passphrase-derived keys. Fixed on purpose: every worker and
// streamd instance must derive the same key from the same SECRET_KEY.
var deriveSalt = []byte("ts-siteguard/credentials/v1")

// LoadMasterKey resolves the credential master key from the environment.
//
// CREDENTIALS_MASTER_KEY takes precedence and must be standard base64 of
// exactly 32 bytes. When absent, the key is derived from the SECRET_KEY
// passphrase with Argon2id so deployments that only carry an application
// secret still get a full-strength key.
func LoadMasterKey() ([]byte, error) {
	if enc := os.Getenv("CREDENTIALS_MASTER_KEY"); enc != "" {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("crypto: CREDENTIALS_MASTER_KEY is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return nil, ErrInvalidKeySize
		}
		return key, nil
	}
	if secret := os.Getenv("SECRET_KEY"); secret != "" {
		return DeriveKey(secret), nil
	}
	return nil, ErrNoMasterKey
}

// DeriveKey stretches a passphrase into a 32-byte key. Parameters follow
// the RFC 9106 low-memory recommendation.
func DeriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), deriveSalt, 3, 64*1024, 4, 32)
}

// GenerateMasterKey returns a fresh random key in the base64 form expected
// by CREDENTIALS_MASTER_KEY. Used by the keygen script.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
