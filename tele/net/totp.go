package telenet

import (
	"encoding/base32"
	"time"

	"github.com/juju/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultTOTPPeriod = 30 * time.Second
	DefaultTOTPDigits = 6
)

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTP is RFC 6238 time based one-time password with HMAC-SHA1.
type TOTP struct {
	Secret []byte
	Period time.Duration // default 30s
	Digits int           // 6..8, default 6
	Window int           // accepted periods before and after current
}

func (t *TOTP) period() uint {
	if t.Period < time.Second {
		return uint(DefaultTOTPPeriod / time.Second)
	}
	return uint(t.Period / time.Second)
}

func (t *TOTP) digits() int {
	if t.Digits == 0 {
		return DefaultTOTPDigits
	}
	return t.Digits
}

func (t *TOTP) validate() error {
	if len(t.Secret) == 0 {
		return errors.Annotate(ErrInvalidInput, "totp empty secret")
	}
	if d := t.digits(); d < 6 || d > 8 {
		return errors.Annotatef(ErrInvalidInput, "totp digits=%d", d)
	}
	if t.Window < 0 {
		return errors.Annotatef(ErrInvalidInput, "totp window=%d", t.Window)
	}
	return nil
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.period(),
		Skew:      uint(t.Window),
		Digits:    otp.Digits(t.digits()),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// CodeAt returns zero padded code for unix time in seconds.
func (t *TOTP) CodeAt(unix int64) (string, error) {
	return t.Code(time.Unix(unix, 0))
}

func (t *TOTP) Code(now time.Time) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(b32NoPadding.EncodeToString(t.Secret), now, t.opts())
	return code, errors.Annotate(err, "totp")
}

// Verify accepts code within +-Window periods of now.
// Malformed code is rejected without error.
func (t *TOTP) Verify(now time.Time, code string) (bool, error) {
	if err := t.validate(); err != nil {
		return false, err
	}
	if len(code) != t.digits() {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, b32NoPadding.EncodeToString(t.Secret), now, t.opts())
	if err != nil {
		return false, errors.Annotate(err, "totp")
	}
	return ok, nil
}

// URI formats otpauth:// key URI for authenticator apps.
func (t *TOTP) URI(issuer, account string) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      t.period(),
		Secret:      t.Secret,
		Digits:      otp.Digits(t.digits()),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", errors.Annotate(err, "totp uri")
	}
	return key.URL(), nil
}
