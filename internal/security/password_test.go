package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordNeverStoresPlaintext(t *testing.T) {
	hash, err := HashPassword("Secreta123!")
	require.NoError(t, err)

	assert.NotEqual(t, "Secreta123!", hash)
	assert.NotContains(t, hash, "Secreta123!")
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))
}

func TestVerifyPasswordSymmetry(t *testing.T) {
	hash, err := HashPassword("Secreta123!")
	require.NoError(t, err)

	ok, err := VerifyPassword("Secreta123!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("secreta123!", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = VerifyPassword("", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordDistinctSalts(t *testing.T) {
	first, err := HashPassword("same-password")
	require.NoError(t, err)
	second, err := HashPassword("same-password")
	require.NoError(t, err)

	// Same plaintext, different salt, different encoding; both verify.
	assert.NotEqual(t, first, second)

	ok, err := VerifyPassword("same-password", first)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = VerifyPassword("same-password", second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPasswordParsesOwnEncoding(t *testing.T) {
	// The encoding delimits fields with '$'; verification must split on
	// those, not scan greedily past them.
	hash, err := HashPassword("Secreta123!")
	require.NoError(t, err)

	ok, err := VerifyPassword("Secreta123!", hash)
	require.NoError(t, err, "verify must parse the exact output of HashPassword")
	assert.True(t, ok)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	cases := []string{
		"not-an-argon2-encoding",
		"$argon2id$v=19$t=3,m=65536,p=2$only-one-tail-field",
		"$argon2i$v=19$t=3,m=65536,p=2$c2FsdA==$aGFzaA==",
		"$argon2id$v=19$t=x,m=y,p=z$c2FsdA==$aGFzaA==",
		"",
	}
	for _, encoded := range cases {
		_, err := VerifyPassword("whatever", encoded)
		assert.Error(t, err, "encoding %q", encoded)
	}
}
