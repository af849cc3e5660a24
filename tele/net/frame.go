package telenet

import (
	"encoding/binary"

	"github.com/juju/errors"
	"github.com/temoto/sensorlink/crc"
)

const FrameHeaderSize = 4

var ErrMalformedFrame = errors.New("malformed frame")

// Frame prepends little-endian CRC-32 of payload.
func Frame(payload []byte) []byte {
	b := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(b, crc.CRC32(payload))
	copy(b[FrameHeaderSize:], payload)
	return b
}

// Unframe splits declared checksum and payload. Checksum is not validated.
// Returned payload shares memory with b.
func Unframe(b []byte) (uint32, []byte, error) {
	if len(b) < FrameHeaderSize {
		return 0, nil, errors.Annotatef(ErrMalformedFrame, "length=%d", len(b))
	}
	return binary.LittleEndian.Uint32(b), b[FrameHeaderSize:], nil
}

func Verify(checksum uint32, payload []byte) bool {
	return crc.CRC32(payload) == checksum
}

// Check returns payload and true only for structurally valid frame with matching checksum.
func Check(b []byte) ([]byte, bool) {
	sum, payload, err := Unframe(b)
	if err != nil || !Verify(sum, payload) {
		return nil, false
	}
	return payload, true
}
