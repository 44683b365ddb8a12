package repository

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// secretBox seals credential field maps with AES-256-GCM. Sealed form is
// nonce || ciphertext; the auth tag covers both, so truncation and
// tampering fail on open.
type secretBox struct {
	aead cipher.AEAD
}

func newSecretBox(masterKeyHex string) (*secretBox, error) {
	if masterKeyHex == "" {
		return nil, errors.New("credential master key is required")
	}
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, errors.New("credential master key is not valid hex")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential master key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	return &secretBox{aead: aead}, nil
}

func (b *secretBox) seal(fields map[string]string) ([]byte, error) {
	plain, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential fields: %w", err)
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return b.aead.Seal(nonce, nonce, plain, nil), nil
}

func (b *secretBox) open(sealed []byte) (map[string]string, error) {
	ns := b.aead.NonceSize()
	if len(sealed) < ns {
		return nil, errors.New("sealed credential data is truncated")
	}

	plain, err := b.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, errors.New("failed to unseal credential data")
	}

	var fields map[string]string
	if err := json.Unmarshal(plain, &fields); err != nil {
		return nil, errors.New("unsealed credential data is not a field map")
	}
	return fields, nil
}
