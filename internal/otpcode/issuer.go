package otpcode

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Issuer derives a TOTP secret per phone number from a server secret and
// generates four-digit codes valid for one period either side of now.
type Issuer struct {
	secret   []byte
	testCode string
	opts     totp.ValidateOpts
}

func NewIssuer(secret string, period time.Duration, testCode string) *Issuer {
	seconds := uint(period / time.Second)
	if seconds == 0 {
		seconds = 30
	}
	return &Issuer{
		secret:   []byte(secret),
		testCode: testCode,
		opts: totp.ValidateOpts{
			Period:    seconds,
			Skew:      1,
			Digits:    otp.Digits(Length),
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

func (i *Issuer) Generate(phone string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(i.phoneSecret(phone), at, i.opts)
}

// Validate accepts the configured test code for any phone.
func (i *Issuer) Validate(phone, code string, at time.Time) bool {
	if !Valid(code) {
		return false
	}
	if i.testCode != "" && subtle.ConstantTimeCompare([]byte(code), []byte(i.testCode)) == 1 {
		return true
	}
	ok, err := totp.ValidateCustom(code, i.phoneSecret(phone), at, i.opts)
	return err == nil && ok
}

func (i *Issuer) phoneSecret(phone string) string {
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(phone))
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(mac.Sum(nil))
}
