package telenet

import (
	"context"
	"time"

	"github.com/juju/errors"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultReadLimit      = 1 << 20
)

// Close codes, websocket numbering.
const (
	CloseNormal        = 1000
	CloseInternalError = 1011
	CloseInvalidToken  = 4401
)

var (
	ErrClosing      = errors.New("closing")
	ErrTimeout      = errors.New("timeout")
	ErrProvisioning = errors.New("provisioning failed")
	ErrSameClient   = errors.New("session overtake")
)

// Conn is one session: duplex, ordered, unbounded byte message channel.
type Conn interface {
	// Send enqueues message, never blocks on peer reading speed.
	Send(context.Context, []byte) error
	// Receive waits for next message. ctx deadline gives ErrTimeout, conn stays usable.
	// After close, pending messages are still delivered, then ErrClosing.
	Receive(context.Context) ([]byte, error)
	Close(code int, reason string) error
	Closed() bool
	ID() string
	Stat() *SessionStat
	String() string
}

func ctxError(ctx context.Context) error {
	err := ctx.Err()
	if err == context.DeadlineExceeded {
		return errors.Annotate(ErrTimeout, "receive")
	}
	return errors.Trace(err)
}
