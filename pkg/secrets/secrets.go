// Package secrets seals short strings, such as pool account credentials,
// with AES-256-GCM under a key derived from one master key.
//
// Each Cipher is bound to a purpose, so the same master key yields unrelated
// keys for unrelated data. Callers pass associated data (typically the row
// id) so a sealed value copied onto another row fails to open.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the master key length in bytes.
const KeySize = 32

// prefix marks sealed values and their format version.
const prefix = "enc:v1:"

var (
	ErrInvalidKey        = errors.New("secrets: master key must be 32 bytes")
	ErrEmptyPurpose      = errors.New("secrets: purpose is required")
	ErrEncryptionFailed  = errors.New("secrets: encryption failed")
	ErrDecryptionFailed  = errors.New("secrets: decryption failed")
	ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")
)

// Config carries the base64-encoded master key.
type Config struct {
	MasterKey string `env:"CREDENTIALS_KEY"`
}

// Enabled reports whether a master key is configured.
func (c Config) Enabled() bool {
	return c.MasterKey != ""
}

// ParseKey decodes a standard base64 master key.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// GenerateKey returns a random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Cipher seals and opens values for one purpose. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the purpose key from masterKey with HKDF-SHA256.
func New(masterKey []byte, purpose string) (*Cipher, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKey
	}
	if purpose == "" {
		return nil, ErrEmptyPurpose
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte("sharepool/"+purpose)), key); err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

// FromConfig parses cfg.MasterKey and builds a Cipher for purpose.
func FromConfig(cfg Config, purpose string) (*Cipher, error) {
	key, err := ParseKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	defer clear(key)
	return New(key, purpose)
}

// Seal encrypts plaintext bound to aad. The result is printable.
func (c *Cipher) Seal(plaintext string, aad []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), aad)
	return prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. aad must match the value used when sealing.
func (c *Cipher) Open(sealed string, aad []byte) (string, error) {
	body, ok := strings.CutPrefix(sealed, prefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.RawStdEncoding.DecodeString(body)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], aad)
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

// IsSealed reports whether s looks like a value produced by Seal.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, prefix)
}
