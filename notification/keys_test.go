package notification

import (
	"encoding/hex"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateKeyPair(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/identity.key"

	created, err := LoadOrCreateKeyPair(fs, path)
	require.NoError(t, err)

	exists, err := afero.Exists(fs, path+".tmp")
	require.NoError(t, err)
	require.False(t, exists)

	loaded, err := LoadOrCreateKeyPair(fs, path)
	require.NoError(t, err)
	require.Equal(t, created, loaded)
}

func TestLoadOrCreateKeyPair_Invalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/identity.key"

	require.NoError(t, afero.WriteFile(fs, path, []byte("abcd"), 0o600))
	_, err := LoadOrCreateKeyPair(fs, path)
	require.ErrorContains(t, err, "invalid key size")

	require.NoError(t, afero.WriteFile(fs, path, []byte(hex.EncodeToString(make([]byte, KeySize))[:62]+"zz"), 0o600))
	_, err = LoadOrCreateKeyPair(fs, path)
	require.ErrorContains(t, err, "decoding private key")
}

func TestPublicKey_Text(t *testing.T) {
	kp := genKey(t)
	text, err := kp.Public.MarshalText()
	require.NoError(t, err)

	var parsed PublicKey
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, kp.Public, parsed)
	require.Equal(t, kp.Public.KeyID(), parsed.KeyID())

	_, err = ParsePublicKey("0102")
	require.Error(t, err)
}

func TestKeyPairFromPrivate(t *testing.T) {
	kp := genKey(t)
	derived, err := KeyPairFromPrivate(kp.Private)
	require.NoError(t, err)
	require.Equal(t, kp, derived)
}
