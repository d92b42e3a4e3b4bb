package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileVaultStoreAndLoad(t *testing.T) {
	v, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	secret := []byte("this is the srsa passphrase")
	require.NoError(t, v.StoreEncrypted("profile_default", secret, "unlock-me"))

	got, err := v.LoadDecrypted("profile_default", "unlock-me")
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestFileVaultWrongPassphrase(t *testing.T) {
	v, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.StoreEncrypted("k", []byte("secret"), "correct"))
	_, err = v.LoadDecrypted("k", "wrong")
	assert.Equal(t, ErrInvalidPassphrase, err)
}

func TestFileVaultKeyNotFound(t *testing.T) {
	v, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	_, err = v.LoadDecrypted("missing", "anything")
	assert.Equal(t, ErrKeyNotFound, err)
}

func TestFileVaultRejectsPathTraversalKeyID(t *testing.T) {
	v, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	err = v.StoreEncrypted("../escape", []byte("x"), "p")
	assert.Error(t, err)
}
