package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	box, err := NewBox("test-key")
	require.NoError(t, err)

	sealed, err := box.Encrypt("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, Prefix))
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "hunter2")

	plain, err := box.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptNeverDoubleSeals(t *testing.T) {
	box, err := NewBox("test-key")
	require.NoError(t, err)

	sealed, err := box.Encrypt("value")
	require.NoError(t, err)

	again, err := box.Encrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again)
}

func TestDecryptPassesPlainValuesThrough(t *testing.T) {
	box, err := NewBox("test-key")
	require.NoError(t, err)

	plain, err := box.Decrypt("not-sealed")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)
}

func TestDecryptRejectsTamperedValue(t *testing.T) {
	box, err := NewBox("test-key")
	require.NoError(t, err)

	sealed, err := box.Encrypt("value")
	require.NoError(t, err)

	// Flip a character in the base64 payload
	tampered := []byte(sealed)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	_, err = box.Decrypt(string(tampered))
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	box, err := NewBox("key-one")
	require.NoError(t, err)
	other, err := NewBox("key-two")
	require.NoError(t, err)

	sealed, err := box.Encrypt("value")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)
}

func TestNewBoxRequiresKey(t *testing.T) {
	_, err := NewBox("")
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", Mask("anything"))
	assert.Equal(t, "***", Mask(""))
}
