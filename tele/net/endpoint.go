package telenet

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/tele"
)

// Endpoint speaks framed tele messages over Conn.
// Corrupt frames are reported as ok=false with nil error, callers drop them and continue.
type Endpoint struct {
	Conn   Conn
	Codec  tele.Codec
	Sealer *Sealer // optional
	Log    *log2.Log

	lastOK uint32
}

func NewEndpoint(conn Conn, codec tele.Codec, sealer *Sealer, log *log2.Log) *Endpoint {
	return &Endpoint{Conn: conn, Codec: codec, Sealer: sealer, Log: log}
}

// Pack seals (when configured) and frames payload.
func (e *Endpoint) Pack(payload []byte) ([]byte, error) {
	if e.Sealer != nil {
		sealed, err := e.Sealer.Seal(payload)
		if err != nil {
			return nil, err
		}
		payload = sealed
	}
	return Frame(payload), nil
}

func (e *Endpoint) SendUpdate(ctx context.Context, u *tele.Update) error {
	_, err := e.SendUpdateN(ctx, u)
	return err
}

// SendUpdateN returns size of sent frame.
func (e *Endpoint) SendUpdateN(ctx context.Context, u *tele.Update) (int, error) {
	payload, err := e.Codec.EncodeUpdate(u)
	if err != nil {
		return 0, err
	}
	return e.send(ctx, tele.KindUpdate, payload)
}

func (e *Endpoint) SendCommand(ctx context.Context, cmd *tele.Command) error {
	payload, err := e.Codec.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	_, err = e.send(ctx, tele.KindCommand, payload)
	return err
}

// SendRaw sends frame as is, bypassing codec and sealer.
func (e *Endpoint) SendRaw(ctx context.Context, frame []byte) error {
	return errors.Trace(e.Conn.Send(ctx, frame))
}

func (e *Endpoint) send(ctx context.Context, kind string, payload []byte) (int, error) {
	frame, err := e.Pack(payload)
	if err != nil {
		return 0, err
	}
	if err := e.Conn.Send(ctx, frame); err != nil {
		return 0, errors.Annotatef(err, "send %s", kind)
	}
	e.Conn.Stat().Send.Classify(kind, len(frame))
	return len(frame), nil
}

// ReceiveUpdate returns (nil, false, nil) for frame that failed integrity check.
// Decode errors are returned with ok=false, stream stays usable.
func (e *Endpoint) ReceiveUpdate(ctx context.Context) (*tele.Update, bool, error) {
	payload, ok, err := e.receive(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	u, err := e.Codec.DecodeUpdate(payload)
	if err != nil {
		return nil, false, err
	}
	e.Conn.Stat().Recv.Classify(tele.KindUpdate, len(payload)+FrameHeaderSize)
	return u, true, nil
}

func (e *Endpoint) ReceiveCommand(ctx context.Context) (*tele.Command, bool, error) {
	payload, ok, err := e.receive(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	cmd, err := e.Codec.DecodeCommand(payload)
	if err != nil {
		return nil, false, err
	}
	e.Conn.Stat().Recv.Classify(tele.KindCommand, len(payload)+FrameHeaderSize)
	return cmd, true, nil
}

// LastOK reports integrity status of last received frame.
func (e *Endpoint) LastOK() bool { return atomic.LoadUint32(&e.lastOK) == 1 }

func (e *Endpoint) receive(ctx context.Context) ([]byte, bool, error) {
	b, err := e.Conn.Receive(ctx)
	if err != nil {
		return nil, false, err
	}
	sum, payload, err := Unframe(b)
	if err != nil {
		return e.drop("short frame length=%d", len(b))
	}
	if !Verify(sum, payload) {
		return e.drop("checksum mismatch declared=%08x length=%d", sum, len(b))
	}
	if e.Sealer != nil {
		plain, err := e.Sealer.Open(payload)
		if err != nil {
			return e.drop("unseal err=%v", err)
		}
		payload = plain
	}
	atomic.StoreUint32(&e.lastOK, 1)
	return payload, true, nil
}

func (e *Endpoint) drop(format string, args ...interface{}) ([]byte, bool, error) {
	atomic.StoreUint32(&e.lastOK, 0)
	e.Conn.Stat().Dropped.Add(1)
	e.Log.Debugf("drop id="+e.Conn.ID()+" "+format, args...)
	return nil, false, nil
}
