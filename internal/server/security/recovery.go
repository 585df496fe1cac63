package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const recoveryAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// GenerateRecoveryCodes returns n plaintext codes of the form xxxxx-xxxxx
// and the JSON array of their SHA-256 digests for storage.
func GenerateRecoveryCodes(n int) ([]string, string, error) {
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)

	for i := 0; i < n; i++ {
		raw, err := common.GenerateRandByteArray(10)
		if err != nil {
			return nil, "", err
		}
		var b strings.Builder
		for j, c := range raw {
			if j == 5 {
				b.WriteByte('-')
			}
			b.WriteByte(recoveryAlphabet[int(c)%len(recoveryAlphabet)])
		}
		code := b.String()
		codes = append(codes, code)
		hashes = append(hashes, HashRecoveryCode(code))
	}

	encoded, err := json.Marshal(hashes)
	if err != nil {
		return nil, "", err
	}
	return codes, string(encoded), nil
}

// HashRecoveryCode normalizes case and whitespace before hashing.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

// RedeemRecoveryCode checks code against the stored JSON digests. On a
// match it returns the remaining digests with the used one removed.
func RedeemRecoveryCode(stored, code string) (bool, string, error) {
	var hashes []string
	if err := json.Unmarshal([]byte(stored), &hashes); err != nil {
		return false, stored, err
	}

	want := HashRecoveryCode(code)
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(want)) == 1 {
			rest := append(hashes[:i:i], hashes[i+1:]...)
			out, err := json.Marshal(rest)
			if err != nil {
				return false, stored, err
			}
			return true, string(out), nil
		}
	}
	return false, stored, nil
}
