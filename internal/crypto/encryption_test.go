package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid 32-byte key", newTestKey(t), false},
		{"invalid base64", "not-base64!!!", true},
		{"wrong key length", base64.StdEncoding.EncodeToString([]byte("short")), true},
		{"empty key", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptor(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encryptor, err := NewEncryptor(newTestKey(t))
	require.NoError(t, err)

	refreshToken := "0.AXoA1234-example-refresh-token-body-5678"

	ciphertext, err := encryptor.Encrypt(refreshToken)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), refreshToken)

	plaintext, err := encryptor.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, refreshToken, plaintext)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	encryptor, err := NewEncryptor(newTestKey(t))
	require.NoError(t, err)

	first, err := encryptor.Encrypt("same-token")
	require.NoError(t, err)
	second, err := encryptor.Encrypt("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	encryptor, err := NewEncryptor(newTestKey(t))
	require.NoError(t, err)

	ciphertext, err := encryptor.Encrypt("a-token")
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = encryptor.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	first, err := NewEncryptor(newTestKey(t))
	require.NoError(t, err)
	second, err := NewEncryptor(newTestKey(t))
	require.NoError(t, err)

	ciphertext, err := first.Encrypt("a-token")
	require.NoError(t, err)

	_, err = second.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	encryptor, err := NewEncryptor(newTestKey(t))
	require.NoError(t, err)

	_, err = encryptor.Decrypt([]byte{0x01, 0x02})
	assert.Error(t, err)
}
