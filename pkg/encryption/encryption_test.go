package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	s, err := NewSealer("correct horse", 1000)
	require.NoError(t, err)

	plaintext := []byte("<graphml/>")
	sealed, err := s.Seal(plaintext)
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.False(t, bytes.Contains(sealed, plaintext))

	again, err := s.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "salt and nonce must differ per seal")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenWrongPassphrase(t *testing.T) {
	s, _ := NewSealer("one", 1000)
	other, _ := NewSealer("two", 1000)

	sealed, err := s.Seal([]byte("data"))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpenTampered(t *testing.T) {
	s, _ := NewSealer("pw", 1000)
	sealed, _ := s.Seal([]byte("data"))

	t.Run("header", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[10] ^= 0xff
		_, err := s.Open(bad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := s.Open(sealed[:headerSize])
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("plain", func(t *testing.T) {
		_, err := s.Open([]byte("<graphml/>"))
		assert.ErrorIs(t, err, ErrInvalidData)
	})
}

func TestNewSealerEmptyPassphrase(t *testing.T) {
	_, err := NewSealer("", 0)
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey([]byte("pw"), []byte("salt"), 10)
	k2 := DeriveKey([]byte("pw"), []byte("salt"), 10)
	k3 := DeriveKey([]byte("pw"), []byte("pepper"), 10)
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
