// Package pair renders HMI pairing codes: sensor URI and optional TOTP enrolment.
package pair

import (
	"image"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/sensorlink/discovery"
	telenet "github.com/temoto/sensorlink/tele/net"
)

// Code keeps QR content only. qrcode.QRCode is not reusable across renders,
// each render encodes a fresh one.
type Code struct {
	text  string
	level qrcode.RecoveryLevel
}

func New(text string, level qrcode.RecoveryLevel) (*Code, error) {
	c := &Code{text: text, level: level}
	if _, err := c.encode(true); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Code) encode(border bool) (*qrcode.QRCode, error) {
	qr, err := qrcode.New(c.text, c.level)
	if err != nil {
		return nil, errors.Annotate(err, "QR")
	}
	qr.DisableBorder = !border
	return qr, nil
}

// Text returns pairing payload for target: URI, plus "#sni=" when peer identity is set.
func Text(t discovery.Target) string {
	if t.PeerIdentity == "" {
		return t.URI
	}
	return t.URI + "#sni=" + t.PeerIdentity
}

// ForTarget encodes discovery target for HMI pairing screen.
func ForTarget(t discovery.Target) (*Code, error) {
	return New(Text(t), qrcode.High)
}

// ForTOTP encodes otpauth enrolment URI.
func ForTOTP(t *telenet.TOTP, issuer, account string) (*Code, error) {
	uri, err := t.URI(issuer, account)
	if err != nil {
		return nil, err
	}
	return New(uri, qrcode.Medium)
}

func (c *Code) Content() string { return c.text }

// PNG writes image of given size in pixels.
func (c *Code) PNG(w io.Writer, size int, border bool) error {
	qr, err := c.encode(border)
	if err != nil {
		return err
	}
	b, err := qr.PNG(size)
	if err != nil {
		return errors.Annotate(err, "QR png")
	}
	_, err = w.Write(b)
	return errors.Trace(err)
}

// Image returns paletted image, minimum size fits the module grid.
func (c *Code) Image(size int, border bool) (*image.Paletted, error) {
	qr, err := c.encode(border)
	if err != nil {
		return nil, err
	}
	return qr.Image(size).(*image.Paletted), nil
}

// String renders module grid with two terminal cells per module.
func (c *Code) String(border bool) string {
	qr, err := c.encode(border)
	if err != nil {
		// content was encoded once in New
		panic(errors.ErrorStack(err))
	}
	bitmap := qr.Bitmap()
	b := strings.Builder{}
	b.Grow(len(bitmap) * (len(bitmap)*2*3 + 1))
	for _, row := range bitmap {
		for _, set := range row {
			if set {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteRune('\n')
	}
	return b.String()
}
