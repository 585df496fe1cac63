// Package auth mints and verifies the tokens handed to clients: JWT access
// tokens, opaque refresh tokens and short-lived purpose tokens for email
// confirmation and password reset.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RefreshTokenSize is the number of random bytes in a refresh token.
const RefreshTokenSize = 64

const (
	PurposeEmailConfirmation = "email_confirmation"
	PurposePasswordReset     = "password_reset"
)

// Claims is the payload of every token this package signs.
type Claims struct {
	jwt.RegisteredClaims
	UniqueName string   `json:"unique_name,omitempty"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Purpose    string   `json:"pur,omitempty"`
	Stamp      string   `json:"stp,omitempty"`
}

// Subject is the identity an access token is minted for.
type Subject struct {
	ID       string
	UserName string
	Email    string
	Roles    []string
}

type Options struct {
	SigningKey    []byte
	SigningMethod string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

type Codec struct {
	key        []byte
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewCodec(opts Options) (*Codec, error) {
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("signing key is empty")
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	name := opts.SigningMethod
	if name == "" {
		name = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(name).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q", name)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Codec{
		key:        opts.SigningKey,
		method:     method,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        now,
	}, nil
}

func (c *Codec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if c.audience != "" {
		rc.Audience = jwt.ClaimStrings{c.audience}
	}
	return rc
}

func (c *Codec) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(c.method, claims).SignedString(c.key)
}

// MintAccessToken signs an access token for s and returns it with its
// lifetime in seconds.
func (c *Codec) MintAccessToken(s Subject) (string, int64, error) {
	claims := Claims{
		RegisteredClaims: c.registered(s.ID, c.accessTTL),
		UniqueName:       s.UserName,
		Email:            s.Email,
		Roles:            s.Roles,
	}

	token, err := c.sign(claims)
	if err != nil {
		return "", 0, err
	}
	return token, int64(c.accessTTL / time.Second), nil
}

func (c *Codec) keyFunc(*jwt.Token) (any, error) {
	return c.key, nil
}

func (c *Codec) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{c.method.Alg()}))

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, c.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) validating() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}
	return opts
}

// DecodeToken checks the signature only. Expired tokens decode fine, which
// lets the refresh path read the subject out of a stale access token.
func (c *Codec) DecodeToken(token string) (*Claims, error) {
	return c.parse(token, jwt.WithoutClaimsValidation())
}

// VerifyAccessToken fully validates an access token.
func (c *Codec) VerifyAccessToken(token string) (*Claims, error) {
	claims, err := c.parse(token, c.validating()...)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// GenerateRefreshToken returns a fresh opaque refresh token and the instant
// it stops being accepted.
func (c *Codec) GenerateRefreshToken() (string, time.Time, error) {
	token, err := common.MakeRandBase64String(RefreshTokenSize)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, c.now().Add(c.refreshTTL), nil
}

// MintPurposeToken signs a single-purpose token for userID. stamp ties the
// token to mutable account state; a token stops verifying once the stamp
// changes.
func (c *Codec) MintPurposeToken(userID, purpose, stamp string, ttl time.Duration) (string, error) {
	return c.sign(Claims{
		RegisteredClaims: c.registered(userID, ttl),
		Purpose:          purpose,
		Stamp:            digest(stamp),
	})
}

// VerifyPurposeToken returns the subject of a valid token minted for purpose
// with the same stamp.
func (c *Codec) VerifyPurposeToken(token, purpose, stamp string) (string, error) {
	claims, err := c.parse(token, c.validating()...)
	if err != nil {
		return "", err
	}
	if claims.Purpose != purpose {
		return "", common.ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(claims.Stamp), []byte(digest(stamp))) != 1 {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
