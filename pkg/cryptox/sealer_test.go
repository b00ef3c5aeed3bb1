package cryptox_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aussiebroadwan/twofactor/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := cryptox.NewSealer([]byte("test-master-key-for-sealing-12345"))
	require.NoError(t, err)

	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

	sealed, err := sealer.Seal(secret, "u1")
	require.NoError(t, err)
	require.True(t, cryptox.IsSealed(sealed))
	require.NotContains(t, sealed, secret)

	opened, err := sealer.Open(sealed, "u1")
	require.NoError(t, err)
	require.Equal(t, secret, opened)
}

func TestSealer_FreshNonceEachTime(t *testing.T) {
	sealer, err := cryptox.NewSealer([]byte("test-master-key-multiple-times-xyz"))
	require.NoError(t, err)

	a, err := sealer.Seal("same", "u1")
	require.NoError(t, err)
	b, err := sealer.Seal("same", "u1")
	require.NoError(t, err)

	require.NotEqual(t, a, b, "multiple seals should produce different ciphertexts")
}

func TestSealer_WrongKey(t *testing.T) {
	s1, err := cryptox.NewSealer([]byte("key-one"))
	require.NoError(t, err)
	s2, err := cryptox.NewSealer([]byte("key-two"))
	require.NoError(t, err)

	sealed, err := s1.Seal("secret", "u1")
	require.NoError(t, err)

	_, err = s2.Open(sealed, "u1")
	require.Error(t, err)
}

func TestSealer_BoundToAdditionalData(t *testing.T) {
	sealer, err := cryptox.NewSealer([]byte("test-master-key-bound-to-user"))
	require.NoError(t, err)

	sealed, err := sealer.Seal("GEZDGNBVGY3TQOJQ", "u1")
	require.NoError(t, err)

	// A row copied onto another user does not open
	_, err = sealer.Open(sealed, "u2")
	require.Error(t, err)
	_, err = sealer.Open(sealed, "")
	require.Error(t, err)

	opened, err := sealer.Open(sealed, "u1")
	require.NoError(t, err)
	require.Equal(t, "GEZDGNBVGY3TQOJQ", opened)
}

func TestSealer_Malformed(t *testing.T) {
	sealer, err := cryptox.NewSealer([]byte("key"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"no prefix", "GEZDGNBVGY3TQOJQ"},
		{"bad base64", "v1.***"},
		{"too short", "v1.AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sealer.Open(tt.input, "u1")
			require.ErrorIs(t, err, cryptox.ErrMalformedSealed)
		})
	}
}

func TestSealer_Tampered(t *testing.T) {
	sealer, err := cryptox.NewSealer([]byte("key"))
	require.NoError(t, err)

	sealed, err := sealer.Seal("secret", "u1")
	require.NoError(t, err)

	// Flip a character well inside the body, the trailing one may only
	// carry padding bits
	body := []byte(sealed)
	i := len(body) / 2
	if body[i] == 'A' {
		body[i] = 'B'
	} else {
		body[i] = 'A'
	}

	_, err = sealer.Open(string(body), "u1")
	require.Error(t, err)
}

func TestNewSealer_EmptyKey(t *testing.T) {
	_, err := cryptox.NewSealer(nil)
	require.Error(t, err)
}

func TestLoadMasterKey(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		key, err := cryptox.LoadMasterKey("", "")
		require.NoError(t, err)
		require.Nil(t, key)
	})

	t.Run("inline", func(t *testing.T) {
		key, err := cryptox.LoadMasterKey("", "inline-key")
		require.NoError(t, err)
		require.Equal(t, []byte("inline-key"), key)
	})

	t.Run("file wins and is trimmed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte("file-key\n"), 0600))

		key, err := cryptox.LoadMasterKey(path, "inline-key")
		require.NoError(t, err)
		require.Equal(t, []byte("file-key"), key)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := cryptox.LoadMasterKey(filepath.Join(t.TempDir(), "nope"), "")
		require.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.key")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(" ", 3)), 0600))

		_, err := cryptox.LoadMasterKey(path, "")
		require.Error(t, err)
	})
}
