package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the size of every symmetric key used by the vault.
const KeySize = 32

var (
	// ErrDecryptionFailed is returned when a ciphertext fails authentication.
	// No plaintext is ever returned alongside it.
	ErrDecryptionFailed = errors.New("cryptoutils: message authentication failed")

	// ErrCiphertextTooShort is returned for inputs shorter than nonce plus tag.
	ErrCiphertextTooShort = errors.New("cryptoutils: ciphertext too short")

	// ErrInvalidKeySize is returned for keys that are not KeySize bytes.
	ErrInvalidKeySize = errors.New("cryptoutils: invalid key size")
)

// Seal encrypts plaintext with AES-256-GCM under key, binding aad.
//
// Output layout: [nonce (12 bytes)][ciphertext||tag]
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aesGCM.Overhead())
	out = append(out, nonce...)
	return aesGCM.Seal(out, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts data produced by Seal.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := aesGCM.NonceSize()
	if len(sealed) < nonceSize+aesGCM.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := aesGCM.Open(nil, sealed[:nonceSize], sealed[nonceSize:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
