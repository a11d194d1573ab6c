package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EncryptedKeyHeader prefixes key material that was wrapped with WrapKey.
const EncryptedKeyHeader = "ENC1\n"

// ErrNoEncryptionKey is returned when ENCRYPTION_KEY is not set.
var ErrNoEncryptionKey = errors.New("ENCRYPTION_KEY is not set")

// EncryptionManager handles AES-256 encryption/decryption
type EncryptionManager struct {
	key []byte
}

// NewEncryptionManager creates a manager from the ENCRYPTION_KEY environment variable
func NewEncryptionManager() (*EncryptionManager, error) {
	keyStr := strings.TrimSpace(os.Getenv("ENCRYPTION_KEY"))
	if keyStr == "" {
		return nil, ErrNoEncryptionKey
	}
	return NewEncryptionManagerFromKey(keyStr)
}

// NewEncryptionManagerFromKey creates a manager from a base64 encoded key.
// Keys that are not 32 bytes long are stretched with SHA-256.
func NewEncryptionManagerFromKey(encoded string) (*EncryptionManager, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY format (must be base64): %w", err)
	}

	key := decoded
	if len(decoded) != 32 {
		hash := sha256.Sum256(decoded)
		key = hash[:]
	}

	return &EncryptionManager{key: key}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM
func (em *EncryptionManager) Encrypt(plaintext []byte) ([]byte, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM
func (em *EncryptionManager) Decrypt(ciphertext []byte) ([]byte, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

func (em *EncryptionManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// IsWrappedKey reports whether data carries the ENC1 header.
func IsWrappedKey(data []byte) bool {
	return bytes.HasPrefix(data, []byte(EncryptedKeyHeader))
}

// WrapKey encrypts PEM key material into the ENC1 text form.
func (em *EncryptionManager) WrapKey(pemData []byte) (string, error) {
	ciphertext, err := em.Encrypt(pemData)
	if err != nil {
		return "", err
	}
	return EncryptedKeyHeader + base64.StdEncoding.EncodeToString(ciphertext) + "\n", nil
}

// UnwrapKey reverses WrapKey. Data without the header is returned unchanged.
func (em *EncryptionManager) UnwrapKey(data []byte) ([]byte, error) {
	if !IsWrappedKey(data) {
		return data, nil
	}

	payload := strings.TrimSpace(string(data[len(EncryptedKeyHeader):]))
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted key: %w", err)
	}

	plaintext, err := em.Decrypt(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	return plaintext, nil
}
