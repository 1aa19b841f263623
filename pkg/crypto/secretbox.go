package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrKeyMissing      = errors.New("encryption key missing")
	ErrInvalidCipher   = errors.New("invalid ciphertext")
	ErrDecryptionFails = errors.New("decryption failed")
)

// Box seals short secrets (mailbox passwords, refresh tokens) for storage.
type Box struct {
	key *[32]byte
}

// NewBox derives the sealing key from secret. An empty secret yields a
// Box that refuses to seal anything.
func NewBox(secret string) *Box {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Box{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Box{key: &sum}
}

// Encrypt returns base64(nonce || sealed).
func (b *Box) Encrypt(plain string) (string, error) {
	if b == nil || b.key == nil {
		return "", ErrKeyMissing
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(encoded string) (string, error) {
	if b == nil || b.key == nil {
		return "", ErrKeyMissing
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrInvalidCipher
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, b.key)
	if !ok {
		return "", ErrDecryptionFails
	}
	return string(plain), nil
}
