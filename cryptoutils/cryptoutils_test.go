package cryptoutils

import (
	"testing"
	"time"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Simple string", data: []byte("seed-phrase-abc")},
		{name: "Binary data", data: []byte{0x00, 0x01, 0xFF, 0xFE}},
		{name: "Empty data", data: []byte{}},
		{name: "Long data", data: make([]byte, 4096)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := Seal(key, tc.data, []byte("entry-1"))
			require.NoError(t, err)

			opened, err := Open(key, sealed, []byte("entry-1"))
			require.NoError(t, err)
			assert.Equal(t, len(tc.data), len(opened))
			assert.Equal(t, string(tc.data), string(opened))
		})
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	otherKey, err := RandomBytes(KeySize)
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("secret"), []byte("aad-1"))
	require.NoError(t, err)

	_, err = Open(key, sealed, []byte("aad-2"))
	assert.ErrorIs(t, err, ErrDecryptionFailed, "mismatched aad")

	_, err = Open(otherKey, sealed, []byte("aad-1"))
	assert.ErrorIs(t, err, ErrDecryptionFailed, "wrong key")

	mut := append([]byte(nil), sealed...)
	mut[len(mut)-1] ^= 0xFF
	out, err := Open(key, mut, []byte("aad-1"))
	assert.ErrorIs(t, err, ErrDecryptionFailed, "tag tamper")
	assert.Nil(t, out)

	_, err = Open(key, sealed[:8], nil)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Seal([]byte("short"), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDeriveKey(t *testing.T) {
	p := interfaces.KDFParams{Time: 1, Memory: 1024, Threads: 1}
	p, err := WithFreshSalt(p)
	require.NoError(t, err)
	assert.Len(t, p.Salt, SaltSize)

	k1, err := DeriveKey([]byte("correct horse"), p)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("correct horse"), p)
	require.NoError(t, err)
	k3, err := DeriveKey([]byte("wrong horse"), p)
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	assert.True(t, CheckVerifier(k1, Verifier(k2)))
	assert.False(t, CheckVerifier(k3, Verifier(k1)))

	_, err = DeriveKey([]byte("pw"), interfaces.KDFParams{})
	assert.Error(t, err)
}

func TestParamsForLevel(t *testing.T) {
	std, err := ParamsForLevel(interfaces.SecurityStandard)
	require.NoError(t, err)
	max, err := ParamsForLevel(interfaces.SecurityMaximum)
	require.NoError(t, err)
	assert.Greater(t, max.Memory, std.Memory)
	assert.NotEqual(t, std.Salt, max.Salt)

	unknown, err := ParamsForLevel("bogus")
	require.NoError(t, err)
	assert.Equal(t, std.Memory, unknown.Memory)
}

func TestDeriveSubkey(t *testing.T) {
	root, err := RandomBytes(KeySize)
	require.NoError(t, err)

	a, err := DeriveSubkey(root, "timelock/rec-1")
	require.NoError(t, err)
	b, err := DeriveSubkey(root, "timelock/rec-2")
	require.NoError(t, err)
	again, err := DeriveSubkey(root, "timelock/rec-1")
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)

	_, err = DeriveSubkey(nil, "x")
	assert.Error(t, err)
}

func TestTOTP(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := TOTPCode(secret, now)
	require.NoError(t, err)
	assert.Len(t, code, TOTPDigits)

	assert.True(t, VerifyTOTP(code, secret, now))
	assert.True(t, VerifyTOTP(code, secret, now.Add(TOTPStep)), "one step of drift is accepted")
	assert.False(t, VerifyTOTP(code, secret, now.Add(5*TOTPStep)))
	assert.False(t, VerifyTOTP("12345", secret, now))
	assert.False(t, VerifyTOTP(code, "not base32!", now))

	uri := TOTPProvisionURI("alice@example.com", "Wallet Vault", secret)
	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, "secret="+secret)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
