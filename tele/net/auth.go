package telenet

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"github.com/juju/errors"
)

const (
	LabelHandshake = "ws-handshake"
	LabelFrame     = "ws-frame"

	NonceSize             = 16
	HandshakeHistoryDepth = 8
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrReplay       = errors.New("replay")
)

// DeriveKey returns HMAC-SHA256(key=secret, message=label).
// Different labels give independent purpose keys from one shared secret.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.Annotate(ErrInvalidInput, "empty secret")
	}
	if label == "" {
		return nil, errors.Annotate(ErrInvalidInput, "empty label")
	}
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(label))
	return h.Sum(nil), nil
}

// Sign returns HMAC-SHA256 over nonce||token.
func Sign(key, nonce []byte, token string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(nonce)
	_, _ = h.Write([]byte(token))
	return h.Sum(nil)
}

// Equal compares in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func NewNonce() ([]byte, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Annotate(err, "nonce")
	}
	return b, nil
}

// Handshake authenticates session establishment with signed nonce.
// Verifier side remembers last HandshakeHistoryDepth accepted nonces.
type Handshake struct {
	key []byte

	mu      sync.Mutex
	history [HandshakeHistoryDepth][]byte
	next    int
}

func NewHandshake(secret []byte) (*Handshake, error) {
	key, err := DeriveKey(secret, LabelHandshake)
	if err != nil {
		return nil, errors.Annotate(err, "handshake key")
	}
	return &Handshake{key: key}, nil
}

// Respond is the client side: signature proving knowledge of the shared secret.
func (h *Handshake) Respond(nonce []byte, authorization string) []byte {
	return Sign(h.key, nonce, authorization)
}

// Check is the server side. authorization is full header value, e.g. "Bearer token".
func (h *Handshake) Check(nonce []byte, authorization string, signature []byte) error {
	if len(nonce) == 0 || len(nonce) > NonceSize {
		return errors.Annotatef(ErrInvalidInput, "nonce length=%d", len(nonce))
	}
	expect := Sign(h.key, nonce, authorization)
	if !Equal(expect, signature) {
		return errors.Annotate(ErrProvisioning, "handshake signature")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, seen := range h.history {
		if seen != nil && bytes.Equal(seen, nonce) {
			return errors.Annotate(ErrReplay, "handshake nonce")
		}
	}
	h.history[h.next] = append([]byte(nil), nonce...)
	h.next = (h.next + 1) % HandshakeHistoryDepth
	return nil
}
