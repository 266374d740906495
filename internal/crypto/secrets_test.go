package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecretEncryptor(t *testing.T) {
	t.Run("empty key rejected", func(t *testing.T) {
		enc, err := NewSecretEncryptor("")
		assert.Error(t, err)
		assert.Nil(t, enc)
	})

	t.Run("any non-empty key accepted", func(t *testing.T) {
		enc, err := NewSecretEncryptor("passphrase")
		assert.NoError(t, err)
		assert.NotNil(t, enc)
	})
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewSecretEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	plaintext := "whsec_deploy_hook_secret"
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	enc, err := NewSecretEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	c1, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	c2, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
}

func TestDecrypt_Failures(t *testing.T) {
	enc, err := NewSecretEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	t.Run("tampered ciphertext", func(t *testing.T) {
		ciphertext, err := enc.Encrypt("secret")
		require.NoError(t, err)

		tampered := "A" + ciphertext[1:]
		if tampered == ciphertext {
			tampered = "B" + ciphertext[1:]
		}
		_, err = enc.Decrypt(tampered)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewSecretEncryptor("another-key-entirely-0123456789ab")
		require.NoError(t, err)

		ciphertext, err := enc.Encrypt("secret")
		require.NoError(t, err)

		_, err = other.Decrypt(ciphertext)
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := enc.Decrypt("YWJj")
		assert.Error(t, err)
	})

	t.Run("empty passthrough", func(t *testing.T) {
		out, err := enc.Decrypt("")
		assert.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestHashSecret(t *testing.T) {
	encoded, err := HashSecret("my-secret")
	require.NoError(t, err)
	assert.True(t, strings.Contains(encoded, "$"))
	assert.NotContains(t, encoded, "my-secret")

	t.Run("verifies original", func(t *testing.T) {
		assert.True(t, VerifySecretHash("my-secret", encoded))
	})

	t.Run("rejects different secret", func(t *testing.T) {
		assert.False(t, VerifySecretHash("other-secret", encoded))
	})

	t.Run("salted - same input differs", func(t *testing.T) {
		second, err := HashSecret("my-secret")
		require.NoError(t, err)
		assert.NotEqual(t, encoded, second)
		assert.True(t, VerifySecretHash("my-secret", second))
	})

	t.Run("malformed encodings rejected", func(t *testing.T) {
		assert.False(t, VerifySecretHash("x", "no-separator"))
		assert.False(t, VerifySecretHash("x", "!!$!!"))
	})
}

func TestRandomToken(t *testing.T) {
	tok1, err := RandomToken(32)
	require.NoError(t, err)
	tok2, err := RandomToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, tok1, tok2)
	assert.GreaterOrEqual(t, len(tok1), 32)
}

func TestDigestKey(t *testing.T) {
	d1 := DigestKey("key-a")
	d2 := DigestKey("key-a")
	d3 := DigestKey("key-b")

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
	assert.Len(t, d1, 64)
}
