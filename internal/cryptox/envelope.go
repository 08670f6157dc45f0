// Package cryptox implements the authenticated-encryption envelope used for
// every relayed message, plus the key wrapping that protects per-client keys
// at rest.
//
// Envelopes are AES-256-GCM with a fresh random 12-byte nonce per call and a
// detached 16-byte tag. Ciphertext, nonce, and tag travel and persist as
// independent base64 strings so the wire format round-trips exactly.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"

	"edgerelay/internal/common"
)

const (
	// KeySize is the AES-256 key length for per-client keys.
	KeySize = 32
	// NonceSize is the GCM nonce length.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// Envelope is one encrypted message body. All three fields are standard
// base64.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
}

// AAD is the contextual metadata bound into the authentication tag but not
// encrypted. Fanout copies carry {to, ts}; loopback copies carry {from, ts}.
// The exact same bytes must be presented at decrypt time.
type AAD struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	TS   string `json:"ts"`
}

// Bytes returns the canonical serialized form of the AAD.
func (a AAD) Bytes() []byte {
	// Marshal of a flat string struct cannot fail.
	b, _ := json.Marshal(a)
	return b
}

// Seal serializes plaintext to JSON and encrypts it under key, binding aad
// into the authentication tag. A new random nonce is generated per call;
// callers never supply nonces.
func Seal(key []byte, plaintext any, aad []byte) (*Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(plaintext)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, body, aad)
	split := len(sealed) - TagSize

	return &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// Open decrypts env under key with the given aad bytes and unmarshals the
// plaintext JSON into v. Every failure mode (wrong key, tampered
// ciphertext/nonce/tag, mismatched AAD, malformed base64) collapses to
// common.ErrAuthenticationFailed so callers cannot distinguish which check
// failed.
func Open(key []byte, env *Envelope, aad []byte, v any) error {
	aead, err := newAEAD(key)
	if err != nil {
		return common.ErrAuthenticationFailed
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return common.ErrAuthenticationFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return common.ErrAuthenticationFailed
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != TagSize {
		return common.ErrAuthenticationFailed
	}

	body, err := aead.Open(nil, nonce, append(ciphertext, tag...), aad)
	if err != nil {
		return common.ErrAuthenticationFailed
	}

	if err := json.Unmarshal(body, v); err != nil {
		return common.ErrAuthenticationFailed
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("envelope key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
