// Package cryptox seals small secrets (TOTP keys) at rest with AES-GCM.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "authkeeper/totp-secret/v1"

var ErrMalformedSealed = errors.New("malformed sealed value")

// DeriveKey stretches the configured secrets key into a 256-bit AES key
// with HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sealer encrypts short strings into base64(nonce || ciphertext).
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("secrets key is empty")
	}

	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce, err := common.GenerateRandByteArray(s.aead.NonceSize())
	if err != nil {
		return "", err
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or foreign input fails authentication.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformedSealed
	}

	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", ErrMalformedSealed
	}

	plaintext, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
