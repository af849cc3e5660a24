package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/tele"
	telenet "github.com/temoto/sensorlink/tele/net"
)

// HMI is operator side of one session.
type HMI struct {
	ep  *telenet.Endpoint
	seq uint32

	mu      sync.Mutex
	updates []*tele.Update
	limit   int
}

// NewHMI keeps at most keep last updates, 0 keeps all.
func NewHMI(conn telenet.Conn, codec tele.Codec, sealer *telenet.Sealer, log *log2.Log, keep int) *HMI {
	return &HMI{
		ep:    telenet.NewEndpoint(conn, codec, sealer, log),
		limit: keep,
	}
}

func (h *HMI) Endpoint() *telenet.Endpoint { return h.ep }
func (h *HMI) LastOK() bool                { return h.ep.LastOK() }

// Send stamps command with own sequence and current time.
func (h *HMI) Send(ctx context.Context, cmd *tele.Command) error {
	cmd.Seq = atomic.AddUint32(&h.seq, 1) - 1
	cmd.TimestampMs = time.Now().UnixNano() / int64(time.Millisecond)
	return h.ep.SendCommand(ctx, cmd)
}

func (h *HMI) SetPWM(ctx context.Context, ch, duty int) error {
	return h.Send(ctx, &tele.Command{SetPWM: &tele.SetPWM{Channel: ch, Duty: duty}})
}

func (h *HMI) SetFrequency(ctx context.Context, freq int) error {
	return h.Send(ctx, &tele.Command{PWMFreq: &tele.PWMFreq{Freq: freq}})
}

func (h *HMI) WriteGPIO(ctx context.Context, dev, port string, mask, value int) error {
	return h.Send(ctx, &tele.Command{WriteGPIO: &tele.WriteGPIO{Device: dev, Port: port, Mask: mask, Value: value}})
}

// Receive waits for next update. Dropped frames give ok=false and nil error.
func (h *HMI) Receive(ctx context.Context) (*tele.Update, bool, error) {
	u, ok, err := h.ep.ReceiveUpdate(ctx)
	if ok {
		h.mu.Lock()
		h.updates = append(h.updates, u)
		if h.limit > 0 && len(h.updates) > h.limit {
			h.updates = h.updates[len(h.updates)-h.limit:]
		}
		h.mu.Unlock()
	}
	return u, ok, err
}

// Run calls f for every valid update until session ends.
// Undecodable payloads are skipped.
func (h *HMI) Run(ctx context.Context, f func(*tele.Update)) error {
	for {
		u, ok, err := h.Receive(ctx)
		switch errors.Cause(err) {
		case nil:
		case tele.ErrMalformedPayload, tele.ErrUnexpectedKind:
			continue
		default:
			return err
		}
		if ok && f != nil {
			f(u)
		}
	}
}

// Updates returns copy of kept updates, oldest first.
func (h *HMI) Updates() []*tele.Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*tele.Update, len(h.updates))
	copy(out, h.updates)
	return out
}
