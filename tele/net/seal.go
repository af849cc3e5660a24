package telenet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/juju/errors"
)

const (
	SealVersion         = 1
	SealIVSize          = 12
	SealTagSize         = 16
	SealFixedHeaderSize = 1 + 1 + 8 // version, flags, counter
	SealHeaderSize      = SealFixedHeaderSize + SealIVSize
	SealOverhead        = SealHeaderSize + SealTagSize
)

var ErrSealInvalid = errors.New("sealed payload invalid")

// Sealer encrypts frame payloads with AES-256-GCM keyed by LabelFrame derivation.
// Layout: version(1) flags(1) counter(8 LE) iv(12) ciphertext tag(16).
// Fixed header (version, flags, counter) is authenticated as additional data.
// Each direction has its own strictly increasing counter.
type Sealer struct {
	aead cipher.AEAD

	mu   sync.Mutex
	tx   uint64
	rx   uint64
	rand func([]byte) (int, error)
}

func NewSealer(secret []byte) (*Sealer, error) {
	key, err := DeriveKey(secret, LabelFrame)
	if err != nil {
		return nil, errors.Annotate(err, "frame key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Sealer{aead: aead, rand: rand.Read}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	s.tx++
	counter := s.tx
	s.mu.Unlock()

	out := make([]byte, SealHeaderSize, SealOverhead+len(plaintext))
	out[0] = SealVersion
	out[1] = 0
	binary.LittleEndian.PutUint64(out[2:], counter)
	iv := out[SealFixedHeaderSize:SealHeaderSize]
	if _, err := s.rand(iv); err != nil {
		return nil, errors.Annotate(err, "seal iv")
	}
	return s.aead.Seal(out, iv, plaintext, out[:SealFixedHeaderSize]), nil
}

// Open authenticates and decrypts. Counter not greater than last opened is rejected as replay.
func (s *Sealer) Open(b []byte) ([]byte, error) {
	if len(b) < SealOverhead {
		return nil, errors.Annotatef(ErrSealInvalid, "length=%d", len(b))
	}
	if b[0] != SealVersion {
		return nil, errors.Annotatef(ErrSealInvalid, "version=%d", b[0])
	}
	if b[1] != 0 {
		return nil, errors.Annotatef(ErrSealInvalid, "flags=%02x", b[1])
	}
	counter := binary.LittleEndian.Uint64(b[2:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if counter <= s.rx {
		return nil, errors.Annotatef(ErrReplay, "counter=%d last=%d", counter, s.rx)
	}
	iv := b[SealFixedHeaderSize:SealHeaderSize]
	plain, err := s.aead.Open(nil, iv, b[SealHeaderSize:], b[:SealFixedHeaderSize])
	if err != nil {
		return nil, errors.Annotate(ErrSealInvalid, err.Error())
	}
	s.rx = counter
	return plain, nil
}

// Reset forgets both counters, for a new session with same key.
func (s *Sealer) Reset() {
	s.mu.Lock()
	s.tx, s.rx = 0, 0
	s.mu.Unlock()
}
