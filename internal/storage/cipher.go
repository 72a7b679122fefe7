package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Cipher encrypts token columns at rest with AES-256-GCM. The encoded form
// is base64(nonce || ciphertext || tag). A nil *Cipher is valid and means
// encryption is disabled: Encrypt and Decrypt pass values through unchanged.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte AES-256 key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("storage: encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("storage: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storage: cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromPassphrase derives a key from an operator-supplied passphrase
// with SHA-256 and returns a Cipher for it. An empty passphrase returns nil,
// meaning encryption stays disabled.
func NewCipherFromPassphrase(passphrase string) *Cipher {
	if passphrase == "" {
		return nil
	}
	key := sha256.Sum256([]byte(passphrase))
	c, err := NewCipher(key[:])
	if err != nil {
		// Unreachable: the derived key is always 32 bytes.
		panic(err)
	}
	return c
}

// Encrypt encrypts plaintext and returns the base64-encoded result.
// A nil receiver or empty plaintext passes through unchanged.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("storage: rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decrypts a base64-encoded value produced by Encrypt.
// A nil receiver or empty input passes through unchanged.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil || encoded == "" {
		return encoded, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("storage: base64 decode: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("storage: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("storage: gcm.Open: %w", err)
	}
	return string(plaintext), nil
}
