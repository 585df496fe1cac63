package security

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRecoveryCodes(t *testing.T) {
	codes, stored, err := GenerateRecoveryCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	shape := regexp.MustCompile(`^[a-z2-9]{5}-[a-z2-9]{5}$`)
	seen := map[string]bool{}
	for _, c := range codes {
		assert.Regexp(t, shape, c)
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}

	var hashes []string
	require.NoError(t, json.Unmarshal([]byte(stored), &hashes))
	require.Len(t, hashes, 10)
	for i, c := range codes {
		assert.Equal(t, HashRecoveryCode(c), hashes[i])
		assert.NotContains(t, stored, c, "plaintext must not be stored")
	}
}

func TestRedeemRecoveryCode(t *testing.T) {
	codes, stored, err := GenerateRecoveryCodes(3)
	require.NoError(t, err)

	ok, rest, err := RedeemRecoveryCode(stored, strings.ToUpper(codes[1]))
	require.NoError(t, err)
	assert.True(t, ok)

	var hashes []string
	require.NoError(t, json.Unmarshal([]byte(rest), &hashes))
	assert.Len(t, hashes, 2)

	ok, again, err := RedeemRecoveryCode(rest, codes[1])
	require.NoError(t, err)
	assert.False(t, ok, "codes are single use")
	assert.Equal(t, rest, again)
}

func TestRedeemRecoveryCode_BadJSON(t *testing.T) {
	_, _, err := RedeemRecoveryCode("not json", "x")
	assert.Error(t, err)
}
