// Package tele defines the sensor<->HMI message schema and its encodings.
package tele

import (
	"github.com/juju/errors"
)

// Version is the only schema version this package produces and accepts.
const Version = 1

const (
	KindUpdate  = "sensor_update"
	KindCommand = "cmd"
)

var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrUnexpectedKind      = errors.New("unexpected message kind")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)
