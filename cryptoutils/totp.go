package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	TOTPStep   = 30 * time.Second
	TOTPDigits = 6

	totpSecretSize = 20
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a new base32 encoded 160-bit TOTP secret.
func GenerateTOTPSecret() (string, error) {
	secret, err := RandomBytes(totpSecretSize)
	if err != nil {
		return "", err
	}
	defer Wipe(secret)
	return totpEncoding.EncodeToString(secret), nil
}

// VerifyTOTP checks a six digit RFC 6238 code, allowing one step of drift.
func VerifyTOTP(code, secret string, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != TOTPDigits {
		return false
	}
	key, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return false
	}
	defer Wipe(key)

	counter := when.Unix() / int64(TOTPStep/time.Second)
	ok := false
	for i := int64(-1); i <= 1; i++ {
		if counter+i < 0 {
			continue
		}
		if hmac.Equal([]byte(totpCode(key, uint64(counter+i))), []byte(code)) {
			ok = true
		}
	}
	return ok
}

// TOTPCode computes the code for secret at the given time.
func TOTPCode(secret string, when time.Time) (string, error) {
	key, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret: %w", err)
	}
	defer Wipe(key)
	return totpCode(key, uint64(when.Unix()/int64(TOTPStep/time.Second))), nil
}

// TOTPProvisionURI returns an otpauth:// URI for authenticator apps.
func TOTPProvisionURI(account, issuer, secret string) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(TOTPDigits))
	q.Set("period", fmt.Sprint(int(TOTPStep/time.Second)))
	return "otpauth://totp/" + label + "?" + q.Encode()
}

func totpCode(key []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", TOTPDigits, trunc%1000000)
}
