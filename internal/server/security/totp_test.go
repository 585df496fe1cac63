package security

import (
	"encoding/base32"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B seed for SHA1.
var rfcSecret = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte("12345678901234567890"))

func TestHOTP_RFCVectors(t *testing.T) {
	tests := []struct {
		unix int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
	}

	totp := NewTOTP(TOTPConfig{Digits: 8, Period: 30})
	for _, tt := range tests {
		got, err := totp.CodeAt(rfcSecret, time.Unix(tt.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, tt.code, got, "t=%d", tt.unix)
	}
}

func TestVerifyCode_SkewWindow(t *testing.T) {
	totp := NewTOTP(TOTPConfig{Issuer: "AHIS", Digits: 6, Period: 30, Skew: 1})
	now := time.Unix(1111111109, 0)

	for _, delta := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.CodeAt(rfcSecret, now.Add(delta))
		require.NoError(t, err)
		ok, counter, err := totp.VerifyCode(rfcSecret, code, now)
		require.NoError(t, err)
		assert.True(t, ok, "delta %v", delta)
		assert.Equal(t, now.Add(delta).Unix()/30, counter)
	}

	far, _ := totp.CodeAt(rfcSecret, now.Add(90*time.Second))
	ok, _, err := totp.VerifyCode(rfcSecret, far, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyCode_RejectsMalformed(t *testing.T) {
	totp := NewTOTP(TOTPConfig{Digits: 6, Period: 30, Skew: 1})
	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 34 5x"} {
		ok, _, err := totp.VerifyCode(rfcSecret, code, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, code)
	}
}

func TestVerifyCode_AcceptsSpacedCode(t *testing.T) {
	totp := NewTOTP(TOTPConfig{Digits: 6, Period: 30})
	now := time.Now()
	code, _ := totp.CodeAt(rfcSecret, now)

	ok, _, err := totp.VerifyCode(rfcSecret, " "+code[:3]+" "+code[3:]+" ", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCode_BadSecret(t *testing.T) {
	totp := NewTOTP(TOTPConfig{Digits: 6, Period: 30})
	_, _, err := totp.VerifyCode("not base32 !", "123456", time.Now())
	assert.Error(t, err)
}

func TestGenerateSecret(t *testing.T) {
	totp := NewTOTP(TOTPConfig{})
	s, err := totp.GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, s, 32)

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 20)

	other, _ := totp.GenerateSecret()
	assert.NotEqual(t, s, other)
}

func TestProvisionURI(t *testing.T) {
	totp := NewTOTP(TOTPConfig{Issuer: "AHIS", Digits: 6, Period: 30})
	uri := totp.ProvisionURI("JBSWY3DPEHPK3PXP", "alice@example.com")

	require.True(t, strings.HasPrefix(uri, "otpauth://totp/AHIS:alice@example.com?"))
	u, err := url.Parse(uri)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "JBSWY3DPEHPK3PXP", q.Get("secret"))
	assert.Equal(t, "AHIS", q.Get("issuer"))
	assert.Equal(t, "6", q.Get("digits"))
	assert.Equal(t, "30", q.Get("period"))
	assert.Equal(t, "SHA1", q.Get("algorithm"))
}
