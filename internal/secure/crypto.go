package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Crypter seals session payloads (transcripts, audio) before they leave the
// process for external storage.
type Crypter struct {
	key []byte
}

// NewCrypter derives a 256 bit AES key from the configured passphrase.
func NewCrypter(passphrase string) (*Crypter, error) {
	if len(passphrase) < 16 {
		return nil, fmt.Errorf("passphrase length must be >= 16 chars, got %d", len(passphrase))
	}
	key := sha256.Sum256([]byte(passphrase))
	return &Crypter{key: key[:]}, nil
}

// Seal encrypts data, the nonce is prepended to the ciphertext.
func (c *Crypter) Seal(data []byte) ([]byte, error) {
	aesgcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aesgcm.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts data produced by Seal.
func (c *Crypter) Open(data []byte) ([]byte, error) {
	aesgcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := aesgcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return aesgcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

func (c *Crypter) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
