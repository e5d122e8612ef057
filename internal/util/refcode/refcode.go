package refcode

import (
	"crypto/rand"
	"encoding/base32"
)

// Prefix marks program referral codes.
const Prefix = "TAOO-"

// Generate creates a random referral code: the prefix followed by six
// base32 uppercase letters/digits.
func Generate() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	if len(code) > 6 {
		code = code[:6]
	}
	return Prefix + code, nil
}
