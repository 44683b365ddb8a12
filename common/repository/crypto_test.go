package repository

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, b byte) string {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return hex.EncodeToString(key)
}

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := newSecretBox(testKey(t, 0x11))
	require.NoError(t, err)

	fields := map[string]string{
		"host":     "smtp.example.com",
		"username": "mailer",
		"password": "hunter2",
	}

	sealed, err := box.seal(fields)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hunter2")

	opened, err := box.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, fields, opened)
}

func TestSecretBoxNoncesDiffer(t *testing.T) {
	box, err := newSecretBox(testKey(t, 0x22))
	require.NoError(t, err)

	fields := map[string]string{"token": "abc"}
	a, err := box.seal(fields)
	require.NoError(t, err)
	b, err := box.seal(fields)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each seal must use a fresh nonce")
}

func TestSecretBoxRejectsWrongKey(t *testing.T) {
	sealer, err := newSecretBox(testKey(t, 0x33))
	require.NoError(t, err)
	opener, err := newSecretBox(testKey(t, 0x44))
	require.NoError(t, err)

	sealed, err := sealer.seal(map[string]string{"token": "abc"})
	require.NoError(t, err)

	_, err = opener.open(sealed)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "abc")
}

func TestSecretBoxRejectsTampering(t *testing.T) {
	box, err := newSecretBox(testKey(t, 0x55))
	require.NoError(t, err)

	sealed, err := box.seal(map[string]string{"token": "abc"})
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = box.open(sealed)
	assert.Error(t, err)
}

func TestSecretBoxRejectsTruncatedData(t *testing.T) {
	box, err := newSecretBox(testKey(t, 0x66))
	require.NoError(t, err)

	_, err = box.open([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestNewSecretBoxKeyValidation(t *testing.T) {
	_, err := newSecretBox("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master key is required")

	_, err = newSecretBox("not-hex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid hex")

	_, err = newSecretBox(strings.Repeat("ab", 16))
	assert.NoError(t, err)

	_, err = newSecretBox(strings.Repeat("ab", 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}
