package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a 32-byte subkey from the server master secret for the
// given label via HKDF-SHA256. Distinct labels ("key-wrap", "privileged-token")
// keep the wrap key and the token-signing key independent even though they
// share one configured secret.
func DeriveKey(secret, label string) []byte {
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte(label))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		panic(err)
	}
	return out
}

// Wrap seals secret under wrapKey and returns a single opaque base64 string
// (nonce || ciphertext || tag). This is the only form in which per-client
// keys and reissuable tokens touch storage.
func Wrap(wrapKey, secret []byte) (string, error) {
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, secret, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unwrap reverses Wrap. It fails on any corruption or a wrapKey that does
// not match the one used to seal.
func Unwrap(wrapKey []byte, wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, err
	}
	if len(raw) < NonceSize+TagSize {
		return nil, errors.New("wrapped value too short")
	}

	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
}
