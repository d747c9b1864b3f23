package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HMAC returns HMAC-SHA256(key, data...).
func HMAC(key []byte, data ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}

// Verifier is a password-check tag derived from a key. It reveals nothing
// about the key that unwraps the data.
func Verifier(key []byte) []byte {
	return HMAC(key, []byte("verifier"))
}

// CheckVerifier compares a key against a stored verifier in constant time.
func CheckVerifier(key, verifier []byte) bool {
	return hmac.Equal(Verifier(key), verifier)
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// DeriveSubkey derives a KeySize key from a root key with HKDF-SHA256,
// domain-separated by info.
func DeriveSubkey(root []byte, info string) ([]byte, error) {
	if len(root) == 0 {
		return nil, ErrInvalidKeySize
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	return key, nil
}

// SHA256Hex returns the hex encoded SHA-256 digest of data.
func SHA256Hex(data ...[]byte) string {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}
