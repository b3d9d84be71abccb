package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	for _, plaintext := range []string{"AUTH_abc123", "0123456789", ""} {
		encrypted, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)

		decrypted, err := c.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptNonceVariance(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	a, err := c.Encrypt("AUTH_abc123")
	require.NoError(t, err)
	b, err := c.Encrypt("AUTH_abc123")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per value")
}

func TestDecryptRejectsWrongKeyAndGarbage(t *testing.T) {
	a, err := NewCipher("secret-a")
	require.NoError(t, err)
	b, err := NewCipher("secret-b")
	require.NoError(t, err)

	encrypted, err := a.Encrypt("AUTH_abc123")
	require.NoError(t, err)

	_, err = b.Decrypt(encrypted)
	assert.Error(t, err)

	_, err = a.Decrypt("!!!not-base64!!!")
	assert.Error(t, err)

	_, err = a.Decrypt("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

func TestNewCipherRequiresSecret(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
}

func TestLast4(t *testing.T) {
	assert.Equal(t, "6789", Last4("0123456789"))
	assert.Equal(t, "123", Last4("123"))
}
