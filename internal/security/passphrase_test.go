package security

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassphrase(t *testing.T) {
	hash, err := HashPassphrase("secret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := VerifyPassphrase(hash, "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassphrase(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	a, err := HashPassphrase("same")
	require.NoError(t, err)
	b, err := HashPassphrase("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyEmpty(t *testing.T) {
	hash, err := HashPassphrase("")
	require.NoError(t, err)
	assert.Empty(t, hash)

	ok, err := VerifyPassphrase("", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassphrase("", "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformed(t *testing.T) {
	for _, encoded := range []string{
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1,p=300$c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$!!$a2V5",
		"$argon2id$v=16$m=1,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1,p=1,x=2$c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdA$",
	} {
		_, err := VerifyPassphrase(encoded, "x")
		assert.True(t, errors.Is(err, ErrMalformedHash), encoded)
	}
}

func TestVerifyUsesCostFromHash(t *testing.T) {
	cheap := Params{Time: 2, Memory: 8 * 1024, Threads: 2, KeyLen: 16, SaltLen: 8}
	hash, err := cheap.Hash("secret")
	require.NoError(t, err)
	assert.Contains(t, hash, "$m=8192,t=2,p=2$")

	ok, err := VerifyPassphrase(hash, "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassphrase(hash, "Secret")
	require.NoError(t, err)
	assert.False(t, ok)
}
