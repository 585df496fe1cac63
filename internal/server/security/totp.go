package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const totpSecretBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// TOTP implements RFC 6238 with HMAC-SHA1, the only algorithm common
// authenticator apps agree on.
type TOTP struct {
	cfg TOTPConfig
}

func NewTOTP(cfg TOTPConfig) *TOTP {
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	return &TOTP{cfg: cfg}
}

// Period returns the time step length.
func (t *TOTP) Period() time.Duration {
	return time.Duration(t.cfg.Period) * time.Second
}

// Skew returns how many steps on each side of now are accepted.
func (t *TOTP) Skew() int {
	return t.cfg.Skew
}

// GenerateSecret returns a new 160-bit secret, base32 without padding.
func (t *TOTP) GenerateSecret() (string, error) {
	raw, err := common.GenerateRandByteArray(totpSecretBytes)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(raw)
	return b32.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI scanned by authenticator apps.
func (t *TOTP) ProvisionURI(secret, account string) string {
	label := url.PathEscape(t.cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", t.cfg.Issuer)
	v.Set("digits", strconv.Itoa(t.cfg.Digits))
	v.Set("period", strconv.Itoa(t.cfg.Period))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode reports whether code matches any step within the skew window
// around now, and returns the matching counter for replay tracking.
func (t *TOTP) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(trimmed) != t.cfg.Digits || !isDigits(trimmed) {
		return false, 0, nil
	}

	key, err := b32.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil {
		return false, 0, fmt.Errorf("decode totp secret: %w", err)
	}
	if len(key) == 0 {
		return false, 0, errors.New("empty totp secret")
	}
	defer common.WipeByteArray(key)

	base := now.Unix() / int64(t.cfg.Period)
	for step := -t.cfg.Skew; step <= t.cfg.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(key, counter, t.cfg.Digits)), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// CodeAt returns the code for the step containing at.
func (t *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	key, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", err
	}
	return hotpCode(key, at.Unix()/int64(t.cfg.Period), t.cfg.Digits), nil
}

func hotpCode(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
