// Package secrets encrypts connector credentials at rest.
//
// Values are stored as "enc:" + base64(iv || tag || ciphertext) where the
// ciphertext is AES-256-GCM under SHA-256 of the configured key. The "enc:"
// prefix doubles as a sentinel so already-encrypted values are never
// double-encrypted.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// Prefix marks an encrypted value
	Prefix = "enc:"

	ivSize  = 12
	tagSize = 16
)

// Box encrypts and decrypts secret strings under a fixed key
type Box struct {
	aead cipher.AEAD
}

// NewBox derives an AES-256-GCM box from the configured key material
func NewBox(key string) (*Box, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}

	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Encrypt seals a plaintext value. Already-sealed values pass through.
func (b *Box) Encrypt(plain string) (string, error) {
	if strings.HasPrefix(plain, Prefix) {
		return plain, nil
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// Seal appends ciphertext||tag; the stored layout is iv||tag||ciphertext
	sealed := b.aead.Seal(nil, iv, []byte(plain), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, ivSize+tagSize+len(ct))
	buf = append(buf, iv...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)

	return Prefix + base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a sealed value. Unsealed values pass through.
func (b *Box) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < ivSize+tagSize {
		return "", fmt.Errorf("sealed value too short")
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+tagSize]
	ct := raw[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := b.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}

	return string(plain), nil
}

// IsEncrypted reports whether a value carries the sentinel prefix
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Mask replaces a value with a redaction marker for API responses and logs
func Mask(string) string {
	return "***"
}
