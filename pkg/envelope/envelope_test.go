package envelope

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	plaintexts := []string{
		"hello world",
		"",
		"multi\nline\ncontent\twith\ttabs",
		strings.Repeat("x", 64*1024),
		"unicode: ñ 日本語 🔐",
	}
	for _, pt := range plaintexts {
		sealed, err := Encrypt([]byte(pt), "")
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		got, err := Decrypt(DecryptParams{
			Ciphertext: sealed.Ciphertext,
			IV:         sealed.IV,
			Key:        sealed.Key,
		})
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if string(got) != pt {
			t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(pt))
		}
	}
}

func TestEncryptDecrypt_WithPassword(t *testing.T) {
	sealed, err := Encrypt([]byte("secret content"), "hunter2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if sealed.Salt == "" {
		t.Fatal("password path must produce a salt")
	}
	if !sealed.Key.PasswordDerived() {
		t.Fatal("password path must yield password-derived key material")
	}
	if sealed.Key.Export() != "" {
		t.Error("password-derived key material must not export a raw key")
	}

	got, err := Decrypt(DecryptParams{
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		Salt:       sealed.Salt,
		Password:   "hunter2",
		Key:        sealed.Key,
	})
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(got) != "secret content" {
		t.Errorf("got %q", got)
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	sealed, err := Encrypt([]byte("secret content"), "correct")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = Decrypt(DecryptParams{
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		Salt:       sealed.Salt,
		Password:   "wrong",
		Key:        sealed.Key,
	})
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong password: got %v, want ErrDecryptionFailed", err)
	}
}

func TestDecrypt_PasswordRequired(t *testing.T) {
	sealed, err := Encrypt([]byte("secret"), "pw")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = Decrypt(DecryptParams{
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		Key:        sealed.Key,
	})
	if !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("got %v, want ErrPasswordRequired", err)
	}
}

func TestDecrypt_DirectKeyWithPasswordIsInvalid(t *testing.T) {
	// Supplying a password plus salt while holding a direct key is the
	// stale-key hazard the sentinel rule exists to catch.
	sealed, err := Encrypt([]byte("plain paste"), "")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = Decrypt(DecryptParams{
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		Salt:       base64.StdEncoding.EncodeToString(make([]byte, 16)),
		Password:   "anything",
		Key:        sealed.Key,
	})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("got %v, want ErrInvalidParameters", err)
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	sealed, err := Encrypt([]byte("intact"), "")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	raw[0] ^= 0xff
	_, err = Decrypt(DecryptParams{
		Ciphertext: base64.StdEncoding.EncodeToString(raw),
		IV:         sealed.IV,
		Key:        sealed.Key,
	})
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("corrupted ciphertext: got %v, want ErrDecryptionFailed", err)
	}

	_, err = Decrypt(DecryptParams{
		Ciphertext: "not-base64!!!",
		IV:         sealed.IV,
		Key:        sealed.Key,
	})
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("garbage ciphertext: got %v, want ErrDecryptionFailed", err)
	}
}

func TestDecrypt_ZeroKeyMaterial(t *testing.T) {
	sealed, err := Encrypt([]byte("x"), "")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = Decrypt(DecryptParams{
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
	})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("zero key material: got %v, want ErrInvalidParameters", err)
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	a, err := Encrypt([]byte("same input"), "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("same input"), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.IV == b.IV {
		t.Error("two encryptions produced the same IV")
	}
	if a.Ciphertext == b.Ciphertext {
		t.Error("two encryptions produced the same ciphertext")
	}
}

func TestDirectKey_Validation(t *testing.T) {
	if _, err := DirectKey(make([]byte, 16)); err == nil {
		t.Error("16-byte key should be rejected")
	}
	k, err := DirectKey(make([]byte, 32))
	if err != nil {
		t.Fatalf("32-byte key rejected: %v", err)
	}
	if k.PasswordDerived() {
		t.Error("direct key must not report password-derived")
	}
	if !k.Valid() {
		t.Error("direct key must be valid")
	}
}
