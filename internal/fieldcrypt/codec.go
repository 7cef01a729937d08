// Package fieldcrypt encrypts sensitive text fields before they reach storage.
//
// Values written while a key is configured carry the "AES:" marker followed by
// base64(nonce || ciphertext || tag). Values without the marker are legacy
// plaintext and are always returned unchanged, so enabling encryption on an
// existing database needs no migration.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// Prefix marks a stored value as AES-256-GCM ciphertext.
	Prefix = "AES:"

	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
)

// ErrDecryption is matched by every *DecryptionError via errors.Is.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError reports a value marked as ciphertext that could not be opened.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Kind discriminates the two stored representations.
type Kind int

const (
	KindPlain Kind = iota
	KindAESGCM
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindAESGCM:
		return "aes-gcm"
	default:
		return "unknown"
	}
}

// Sealed is the parsed form of a stored value. For KindPlain only Text is set;
// for KindAESGCM Nonce and Ciphertext (with the tag appended) are set.
type Sealed struct {
	Kind       Kind
	Text       string
	Nonce      []byte
	Ciphertext []byte
}

// Parse classifies a stored value. A value with the marker but an invalid
// payload is reported as a DecryptionError rather than treated as plaintext.
func Parse(stored string) (Sealed, error) {
	if !strings.HasPrefix(stored, Prefix) {
		return Sealed{Kind: KindPlain, Text: stored}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(Prefix):])
	if err != nil {
		return Sealed{}, &DecryptionError{Reason: "malformed payload", Err: err}
	}
	if len(raw) < nonceSize+tagSize {
		return Sealed{}, &DecryptionError{Reason: "payload too short"}
	}
	return Sealed{
		Kind:       KindAESGCM,
		Nonce:      raw[:nonceSize],
		Ciphertext: raw[nonceSize:],
	}, nil
}

// String renders the stored form.
func (s Sealed) String() string {
	if s.Kind == KindPlain {
		return s.Text
	}
	buf := make([]byte, 0, len(s.Nonce)+len(s.Ciphertext))
	buf = append(buf, s.Nonce...)
	buf = append(buf, s.Ciphertext...)
	return Prefix + base64.StdEncoding.EncodeToString(buf)
}

// Codec encrypts and decrypts field values. A Codec without a key is a
// passthrough. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New returns a Codec for key. An empty key yields a passthrough codec; any
// other length than KeySize is rejected.
func New(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return &Codec{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// FromBase64 builds a Codec from a base64-encoded 32-byte key, the format of
// DATA_ENCRYPTION_KEY. Blank input yields a passthrough codec.
func FromBase64(encoded string) (*Codec, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return &Codec{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	return New(key)
}

// GenerateKey returns a fresh random key in base64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("reading random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Enabled reports whether Encode produces ciphertext.
func (c *Codec) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encode returns the stored form of plaintext. Without a key, and for the
// empty string, the plaintext is returned unchanged. Passthrough text that
// itself starts with Prefix cannot be told apart from a sealed value and will
// not decode; with a key every input round-trips.
func (c *Codec) Encode(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}
	sealed := Sealed{
		Kind:       KindAESGCM,
		Nonce:      nonce,
		Ciphertext: c.aead.Seal(nil, nonce, []byte(plaintext), nil),
	}
	return sealed.String(), nil
}

// Decode returns the plaintext for a stored value. Legacy plaintext passes
// through under any configuration.
func (c *Codec) Decode(stored string) (string, error) {
	sealed, err := Parse(stored)
	if err != nil {
		return "", err
	}
	switch sealed.Kind {
	case KindPlain:
		return sealed.Text, nil
	case KindAESGCM:
		if !c.Enabled() {
			return "", &DecryptionError{Reason: "no key configured"}
		}
		plain, err := c.aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
		if err != nil {
			return "", &DecryptionError{Reason: "wrong key or corrupted value", Err: err}
		}
		return string(plain), nil
	default:
		return "", &DecryptionError{Reason: "unknown value kind " + sealed.Kind.String()}
	}
}
