package redis

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// valueCodec transforms values on their way in and out of Redis.
type valueCodec interface {
	encode(plain []byte) ([]byte, error)
	decode(stored []byte) ([]byte, error)
}

// plainCodec passes values through unchanged.
type plainCodec struct{}

func (plainCodec) encode(plain []byte) ([]byte, error)  { return plain, nil }
func (plainCodec) decode(stored []byte) ([]byte, error) { return stored, nil }

// aesCodec applies AES-GCM with a random nonce prepended to each value.
type aesCodec struct {
	gcm cipher.AEAD
}

// newAESCodec builds an aesCodec from a 16/24/32-byte key.
func newAESCodec(key []byte) (*aesCodec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &aesCodec{gcm: gcm}, nil
}

func (c *aesCodec) encode(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plain, nil), nil
}

func (c *aesCodec) decode(stored []byte) ([]byte, error) {
	ns := c.gcm.NonceSize()
	if len(stored) < ns {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	plain, err := c.gcm.Open(nil, stored[:ns], stored[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}
