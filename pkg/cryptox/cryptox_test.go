package cryptox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	t.Parallel()

	s, err := cryptox.NewSealer([]byte("test-master-key-for-encryption-12345"), "cookies")
	require.NoError(t, err)

	plaintext := []byte("eyJhbGciOiJSUzI1NiJ9.payload.sig")
	aad := []byte("token")

	sealed1, err := s.Seal(plaintext, aad)
	require.NoError(t, err)
	sealed2, err := s.Seal(plaintext, aad)
	require.NoError(t, err)
	require.NotEqual(t, sealed1, sealed2, "random nonce per seal")

	opened, err := s.Open(sealed1, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	t.Run("wrong aad", func(t *testing.T) {
		_, err := s.Open(sealed1, []byte("other"))
		require.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), sealed1...)
		tampered[len(tampered)-1] ^= 0xFF
		_, err := s.Open(tampered, aad)
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open([]byte("short"), aad)
		require.ErrorIs(t, err, cryptox.ErrCiphertextTooShort)
	})
}

func TestSealerPurposeSeparation(t *testing.T) {
	t.Parallel()

	master := []byte("shared-master")
	a, err := cryptox.NewSealer(master, "cookies")
	require.NoError(t, err)
	b, err := cryptox.NewSealer(master, "credentials")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("secret"), nil)
	require.NoError(t, err)

	_, err = b.Open(sealed, nil)
	require.Error(t, err, "keys derived for different purposes must differ")
}

func TestNewSealerRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	_, err := cryptox.NewSealer(nil, "cookies")
	require.Error(t, err)
}

func TestLoadMasterKey(t *testing.T) {
	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte("file-key\n"), 0o600))

		key, ephemeral, err := cryptox.LoadMasterKey(path, "CRYPTOX_TEST_KEY")
		require.NoError(t, err)
		require.False(t, ephemeral)
		require.Equal(t, []byte("file-key"), key)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("CRYPTOX_TEST_KEY", "env-key")

		key, ephemeral, err := cryptox.LoadMasterKey("", "CRYPTOX_TEST_KEY")
		require.NoError(t, err)
		require.False(t, ephemeral)
		require.Equal(t, []byte("env-key"), key)
	})

	t.Run("ephemeral fallback", func(t *testing.T) {
		key, ephemeral, err := cryptox.LoadMasterKey("", "CRYPTOX_TEST_KEY_UNSET")
		require.NoError(t, err)
		require.True(t, ephemeral)
		require.Len(t, key, 32)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := cryptox.LoadMasterKey(filepath.Join(t.TempDir(), "nope"), "")
		require.Error(t, err)
	})
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	a, err := cryptox.GenerateToken(cryptox.TokenSize128)
	require.NoError(t, err)
	b, err := cryptox.GenerateToken(cryptox.TokenSize128)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 22)

	_, err = cryptox.GenerateToken(0)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, cryptox.FingerprintToken("abc"), cryptox.FingerprintToken("abc"))
	require.NotEqual(t, cryptox.FingerprintToken("abc"), cryptox.FingerprintToken("abd"))
	require.Len(t, cryptox.FingerprintToken("abc"), 43)
}
