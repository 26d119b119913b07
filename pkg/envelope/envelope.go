// Package envelope implements the client-side cryptographic envelope for
// zero-knowledge pastes: AES-256-GCM content encryption, optional
// PBKDF2-derived keys for password-protected pastes, and the URL-fragment
// encoding that carries key material past the server.
//
// The server never sees anything produced here except the ciphertext, the
// IV and (for the password path) the salt, none of which suffice to
// decrypt.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize  = 32
	ivSize   = 12
	saltSize = 16

	// kdfIterations matches the web client; changing it breaks every
	// existing password-protected link.
	kdfIterations = 100000
)

var (
	// ErrPasswordRequired is returned when the key material is
	// password-derived but no password was supplied.
	ErrPasswordRequired = errors.New("password required for decryption")
	// ErrInvalidParameters is returned when a password is supplied but the
	// key material is not password-derived: the stale key field must never
	// be used in place of the derived key.
	ErrInvalidParameters = errors.New("invalid decryption parameters")
	// ErrDecryptionFailed covers wrong password, wrong key and corrupted
	// ciphertext alike. Callers must not be able to tell these apart.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyMaterial is either a direct 256-bit key or a marker that the key must
// be re-derived from a password and salt. The invalid zero value guards
// against accidentally decrypting with an empty key.
type KeyMaterial struct {
	raw  []byte
	salt []byte
}

// DirectKey wraps a raw 256-bit key.
func DirectKey(raw []byte) (KeyMaterial, error) {
	if len(raw) != keySize {
		return KeyMaterial{}, errors.Errorf("key must be %d bytes, got %d", keySize, len(raw))
	}
	k := make([]byte, keySize)
	copy(k, raw)
	return KeyMaterial{raw: k}, nil
}

// PasswordDerivedKey marks key material that must be re-derived from a
// user-supplied password plus salt.
func PasswordDerivedKey(salt []byte) KeyMaterial {
	s := make([]byte, len(salt))
	copy(s, salt)
	return KeyMaterial{salt: s}
}

// PasswordDerived reports whether decryption needs a password.
func (k KeyMaterial) PasswordDerived() bool { return k.raw == nil && k.salt != nil }

// Valid reports whether the material carries anything usable.
func (k KeyMaterial) Valid() bool { return k.raw != nil || k.salt != nil }

// Salt returns the KDF salt for password-derived material, nil otherwise.
func (k KeyMaterial) Salt() []byte { return k.salt }

// Export returns the base64 encoding of a direct key. Password-derived
// material has no exportable key and yields "".
func (k KeyMaterial) Export() string {
	if k.raw == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(k.raw)
}

// Sealed is the result of encrypting a paste: everything the caller needs
// to store the ciphertext server-side and build a share link client-side.
type Sealed struct {
	Ciphertext string // base64, AEAD tag included
	IV         string // base64, 12 bytes
	Salt       string // base64, 16 bytes; set only on the password path
	Key        KeyMaterial
}

// DecryptParams carries everything needed to open a sealed paste. Key
// normally comes from a decoded URL fragment; Password and the record's
// Salt are supplied for password-protected pastes.
type DecryptParams struct {
	Ciphertext string
	IV         string
	Salt       string
	Password   string
	Key        KeyMaterial
}

// Encrypt seals plaintext under a fresh random key, or under a key derived
// from password when one is given. Each call draws a new IV; an IV is
// never reused with the same key.
func Encrypt(plaintext []byte, password string) (*Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}

	var key []byte
	var material KeyMaterial
	out := &Sealed{IV: base64.StdEncoding.EncodeToString(iv)}

	if password != "" {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, errors.Wrap(err, "generate salt")
		}
		key = deriveKey(password, salt)
		material = PasswordDerivedKey(salt)
		out.Salt = base64.StdEncoding.EncodeToString(salt)
	} else {
		key = make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, errors.Wrap(err, "generate key")
		}
		var err error
		material, err = DirectKey(key)
		if err != nil {
			return nil, err
		}
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	out.Ciphertext = base64.StdEncoding.EncodeToString(aead.Seal(nil, iv, plaintext, nil))
	out.Key = material
	return out, nil
}

// Decrypt opens a sealed paste. The branch rules mirror the share-link
// contract:
//
//   - password and salt both present: the key material MUST be
//     password-derived, otherwise ErrInvalidParameters;
//   - password-derived material without a password: ErrPasswordRequired;
//   - otherwise the direct key is used as-is.
//
// Any authentication failure is ErrDecryptionFailed with no further detail.
func Decrypt(p DecryptParams) ([]byte, error) {
	var key []byte
	switch {
	case p.Password != "" && p.Salt != "":
		if !p.Key.PasswordDerived() {
			return nil, ErrInvalidParameters
		}
		salt, err := base64.StdEncoding.DecodeString(p.Salt)
		if err != nil || len(salt) == 0 {
			return nil, ErrInvalidParameters
		}
		key = deriveKey(p.Password, salt)
	case p.Key.PasswordDerived():
		return nil, ErrPasswordRequired
	case !p.Key.Valid():
		return nil, ErrInvalidParameters
	default:
		key = p.Key.raw
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil || len(iv) != ivSize {
		return nil, ErrDecryptionFailed
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, keySize, sha256.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes cipher")
	}
	return cipher.NewGCM(block)
}
