package cryptoutils

import (
	"fmt"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"golang.org/x/crypto/argon2"
)

// SaltSize is the size of Argon2id salts.
const SaltSize = 32

// Argon2id cost presets per security level.
var levelParams = map[interfaces.SecurityLevel]interfaces.KDFParams{
	interfaces.SecurityStandard: {Time: 3, Memory: 64 * 1024, Threads: 4},
	interfaces.SecurityHigh:     {Time: 4, Memory: 256 * 1024, Threads: 4},
	interfaces.SecurityMaximum:  {Time: 6, Memory: 1024 * 1024, Threads: 4},
}

// ParamsForLevel returns the Argon2id cost for a security level with a fresh salt.
// Unknown levels fall back to standard.
func ParamsForLevel(level interfaces.SecurityLevel) (interfaces.KDFParams, error) {
	p, ok := levelParams[level]
	if !ok {
		p = levelParams[interfaces.SecurityStandard]
	}
	return WithFreshSalt(p)
}

// WithFreshSalt returns a copy of p carrying a new random salt.
func WithFreshSalt(p interfaces.KDFParams) (interfaces.KDFParams, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return interfaces.KDFParams{}, err
	}
	p.Salt = salt
	return p, nil
}

// DeriveKey stretches a password into a KeySize key with Argon2id.
func DeriveKey(password []byte, p interfaces.KDFParams) ([]byte, error) {
	if len(p.Salt) == 0 || p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("invalid KDF parameters: time=%d memory=%d threads=%d salt=%d",
			p.Time, p.Memory, p.Threads, len(p.Salt))
	}
	return argon2.IDKey(password, p.Salt, p.Time, p.Memory, p.Threads, KeySize), nil
}
