// Package fernet implements the at-rest codec for result texts using fernet
// tokens.
package fernet

import (
	"errors"
	"fmt"
	"time"

	fernetlib "github.com/fernet/fernet-go"
)

// Codec encrypts result texts into fernet tokens on write and decrypts them
// on read. Tokens do not expire; rows outlive any reasonable TTL.
type Codec struct {
	keys []*fernetlib.Key
}

// New builds a Codec from a base64 fernet key.
func New(key string) (*Codec, error) {
	if key == "" {
		return nil, errors.New("encryption key is required")
	}
	k, err := fernetlib.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return &Codec{keys: []*fernetlib.Key{k}}, nil
}

// Encode encrypts the plain text. Empty input stays empty so absent results
// are stored as NULL-equivalent values, not as encrypted empty strings.
func (c *Codec) Encode(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	token, err := fernetlib.EncryptAndSign([]byte(plain), c.keys[0])
	if err != nil {
		return "", fmt.Errorf("encrypt result: %w", err)
	}
	return string(token), nil
}

// Decode decrypts a stored token. A value that does not verify as a token is
// returned as-is: it predates encryption.
func (c *Codec) Decode(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	plain := fernetlib.VerifyAndDecrypt([]byte(stored), 0*time.Second, c.keys)
	if plain == nil {
		return stored, nil
	}
	return string(plain), nil
}
