package crypto_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/technosupport/ts-siteguard/internal/crypto"
)

func testCipher(t *testing.T) *crypto.CredentialCipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := crypto.NewCredentialCipher(key)
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := testCipher(t)
	const cameraID = "b6f7ac0e-3b7d-4f1d-9a65-2f18c9a40c11"
	const secret = "admin:correct horse battery staple"

	blob, err := c.Seal(secret, cameraID)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if blob == secret {
		t.Fatal("blob must not equal plaintext")
	}
	if _, err := base64.StdEncoding.DecodeString(blob); err != nil {
		t.Fatalf("blob is not valid base64: %v", err)
	}

	got, err := c.Open(blob, cameraID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != secret {
		t.Errorf("round trip = %q, want %q", got, secret)
	}
}

func TestOpenWrongCamera(t *testing.T) {
	c := testCipher(t)
	blob, err := c.Seal("user:pass", "camera-a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Open(blob, "camera-b"); !errors.Is(err, crypto.ErrDecryption) {
		t.Errorf("cross-camera open error = %v, want ErrDecryption", err)
	}
}

func TestOpenTampered(t *testing.T) {
	c := testCipher(t)
	blob, err := c.Seal("user:pass", "camera-a")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := c.Open(tampered, "camera-a"); !errors.Is(err, crypto.ErrDecryption) {
		t.Errorf("tampered open error = %v, want ErrDecryption", err)
	}
}

func TestOpenGarbage(t *testing.T) {
	c := testCipher(t)
	if _, err := c.Open("not base64 at all!!!", "camera-a"); !errors.Is(err, crypto.ErrDecryption) {
		t.Errorf("garbage open error = %v, want ErrDecryption", err)
	}
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := c.Open(short, "camera-a"); !errors.Is(err, crypto.ErrBlobTooShort) {
		t.Errorf("short blob error = %v, want ErrBlobTooShort", err)
	}
}

func TestSealNonDeterministic(t *testing.T) {
	c := testCipher(t)
	a, err := c.Seal("user:pass", "camera-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Seal("user:pass", "camera-a")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two seals of the same plaintext must differ (random nonce)")
	}
}

func TestNewCredentialCipherKeySize(t *testing.T) {
	if _, err := crypto.NewCredentialCipher(make([]byte, 16)); !errors.Is(err, crypto.ErrInvalidKeySize) {
		t.Errorf("16-byte key error = %v, want ErrInvalidKeySize", err)
	}
}

func TestLoadMasterKeyBase64(t *testing.T) {
	key := strings.Repeat("k", 32)
	t.Setenv("CREDENTIALS_MASTER_KEY", base64.StdEncoding.EncodeToString([]byte(key)))
	t.Setenv("SECRET_KEY", "")

	got, err := crypto.LoadMasterKey()
	if err != nil {
		t.Fatalf("LoadMasterKey: %v", err)
	}
	if string(got) != key {
		t.Error("decoded key mismatch")
	}
}

func TestLoadMasterKeyRejectsBadLength(t *testing.T) {
	t.Setenv("CREDENTIALS_MASTER_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := crypto.LoadMasterKey(); !errors.Is(err, crypto.ErrInvalidKeySize) {
		t.Errorf("error = %v, want ErrInvalidKeySize", err)
	}
}

func TestLoadMasterKeyRejectsBadBase64(t *testing.T) {
	t.Setenv("CREDENTIALS_MASTER_KEY", "%%% not base64 %%%")
	if _, err := crypto.LoadMasterKey(); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestLoadMasterKeyDerivesFromSecret(t *testing.T) {
	t.Setenv("CREDENTIALS_MASTER_KEY", "")
	t.Setenv("SECRET_KEY", "app-secret")

	a, err := crypto.LoadMasterKey()
	if err != nil {
		t.Fatalf("LoadMasterKey: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("derived key length = %d", len(a))
	}
	b, err := crypto.LoadMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("derivation must be deterministic")
	}
	if string(a) == string(crypto.DeriveKey("other-secret")) {
		t.Error("different passphrases must derive different keys")
	}
}

func TestLoadMasterKeyUnset(t *testing.T) {
	t.Setenv("CREDENTIALS_MASTER_KEY", "")
	t.Setenv("SECRET_KEY", "")
	if _, err := crypto.LoadMasterKey(); !errors.Is(err, crypto.ErrNoMasterKey) {
		t.Errorf("error = %v, want ErrNoMasterKey", err)
	}
}

func TestGenerateMasterKey(t *testing.T) {
	enc, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	key, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("generated key is not base64: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("generated key length = %d, want 32", len(key))
	}
}
