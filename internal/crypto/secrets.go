// Package crypto provides the primitives behind secret storage: AES-256-GCM
// encryption for webhook secrets that must be retrievable for outbound
// signing, and salted PBKDF2-SHA256 hashing for API key secrets that are
// handed out once and never read back.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
)

const (
	hashIterations = 10000
	hashKeyLength  = 32
	hashSaltLength = 16
)

// SecretEncryptor encrypts and decrypts stored secrets using AES-256-GCM.
// Each encryption uses a fresh random nonce, so equal plaintexts produce
// different ciphertexts. Safe for concurrent use.
type SecretEncryptor struct {
	key []byte // 32-byte AES-256 key derived from the configured passphrase
}

// NewSecretEncryptor derives a 32-byte AES key from the configured passphrase
// using PBKDF2-SHA256 with a static salt (the derivation must be
// deterministic so every instance can decrypt what any instance wrote).
func NewSecretEncryptor(key string) (*SecretEncryptor, error) {
	if key == "" {
		return nil, apperrors.ValidationError("encryption key cannot be empty")
	}

	salt := []byte("api-foundation-secret-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, hashIterations, 32, sha256.New)

	return &SecretEncryptor{key: derivedKey}, nil
}

// Encrypt encrypts plaintext with AES-256-GCM and returns base64
// nonce||ciphertext. Empty input passes through as empty.
func (e *SecretEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", apperrors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", apperrors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Tampered or truncated ciphertexts fail GCM
// authentication and return an error.
func (e *SecretEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperrors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", apperrors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", apperrors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", apperrors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", apperrors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// HashSecret produces a one-way salted hash of a secret, encoded as
// "base64(salt)$base64(derived)". The plaintext cannot be recovered.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, hashSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", apperrors.InternalError("failed to generate salt", err)
	}

	derived := pbkdf2.Key([]byte(secret), salt, hashIterations, hashKeyLength, sha256.New)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(derived), nil
}

// VerifySecretHash reports whether secret matches an encoded hash produced by
// HashSecret. Comparison is constant-time.
func VerifySecretHash(secret, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	got := pbkdf2.Key([]byte(secret), salt, hashIterations, len(want), sha256.New)
	return hmac.Equal(got, want)
}

// RandomToken returns a URL-safe base64 token from n random bytes.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", apperrors.InternalError("failed to read random bytes", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DigestKey returns the SHA-256 hex digest of an opaque API key. The digest
// is the only form of the key that touches durable storage or cache keys.
func DigestKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)
}
