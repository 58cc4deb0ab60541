package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize       = 32
	nonceSize     = 12
	cipherVersion = 1
	versionPrefix = "ENC[v%d]:"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Cipher seals exchange secrets with AES-256-GCM. Output format is
// ENC[v1]:base64(nonce+ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// NewCipherFromConfig decodes EXCHANGE_CREDENTIALS_KEY (base64, 32 bytes).
func NewCipherFromConfig(cfg Config) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.ExchangeCRKey))
	if err != nil {
		return nil, fmt.Errorf("decode EXCHANGE_CREDENTIALS_KEY: %w", err)
	}
	return NewCipher(key)
}

func (c *Cipher) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(versionPrefix, cipherVersion) + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) DecryptString(ciphertext string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return "", ErrInvalidCiphertext
	}
	idx := strings.Index(ciphertext, "]:")
	if idx == -1 {
		return "", ErrInvalidCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s carries the versioned ciphertext prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, "ENC[v")
}

// GenerateKey returns a fresh base64 key suitable for EXCHANGE_CREDENTIALS_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
