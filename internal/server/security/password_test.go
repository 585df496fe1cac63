package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(testParams)

	enc, err := h.Hash("P@ssw0rd!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("P@ssw0rd!", enc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", enc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_SaltIsRandom(t *testing.T) {
	h := NewHasher(testParams)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	assert.NotEqual(t, a, b)
}

func TestHasher_VerifyUsesEmbeddedParams(t *testing.T) {
	old := NewHasher(Argon2Params{Memory: 2048, Iterations: 2, Parallelism: 1})
	enc, err := old.Hash("pw")
	require.NoError(t, err)

	ok, err := NewHasher(testParams).Verify("pw", enc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_VerifyMalformed(t *testing.T) {
	h := NewHasher(testParams)
	for _, enc := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!!$aGFzaA",
	} {
		_, err := h.Verify("pw", enc)
		assert.ErrorIs(t, err, ErrInvalidHash, enc)
	}
}
