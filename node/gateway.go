// Package node runs sensor side sessions: telemetry push, command handling and broadcast.
package node

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/tele"
	telenet "github.com/temoto/sensorlink/tele/net"
)

const (
	DefaultPWMChannels = 16
	PWMDevice          = "pca9685"
)

type GatewayOptions struct {
	Log   *log2.Log
	Codec tele.Codec
	// Secret enables per session frame sealing when SealFrames is set.
	Secret     []byte
	SealFrames bool
	// Telemetry push period, zero disables push flow.
	UpdateInterval time.Duration
	AckCommands    bool
	PWMChannels    int
	// NewSampler builds telemetry source for one session. Default is tele.Synthetic.
	NewSampler func(*tele.Effects) tele.Sampler
	// OnCommand is called after command is applied, from session goroutine.
	OnCommand func(id string, cmd *tele.Command)
}

// Gateway serves telenet.Server sessions.
// Every session has its own command effects and update sequence.
type Gateway struct {
	opt    GatewayOptions
	log    *log2.Log
	server *telenet.Server

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	ep       *telenet.Endpoint
	effects  *tele.Effects
	producer *tele.Producer
	sendMu   sync.Mutex // sealed counters must hit the wire in order
}

// NewGateway creates server with sopt, Handler is replaced with gateway session handler.
func NewGateway(opt GatewayOptions, sopt telenet.ServerOptions) (*Gateway, error) {
	if opt.SealFrames && len(opt.Secret) == 0 {
		return nil, errors.NotValidf("frame sealing without secret")
	}
	if opt.PWMChannels == 0 {
		opt.PWMChannels = DefaultPWMChannels
	}
	if opt.NewSampler == nil {
		n := opt.PWMChannels
		opt.NewSampler = func(e *tele.Effects) tele.Sampler { return &tele.Synthetic{Effects: e, Channels: n} }
	}
	if opt.Log == nil {
		opt.Log = sopt.Log
	}
	g := &Gateway{
		opt:      opt,
		log:      opt.Log,
		sessions: make(map[string]*session),
	}
	sopt.Handler = g.serve
	g.server = telenet.NewServer(sopt)
	return g, nil
}

func (g *Gateway) Server() *telenet.Server { return g.server }
func (g *Gateway) Close() error            { return g.server.Close() }

// Effects returns command state of active session.
func (g *Gateway) Effects(id string) (*tele.Effects, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, false
	}
	return s.effects, true
}

// Broadcast delivers u to every active session, returns number of deliveries.
// Without sealing, u is encoded and framed once.
func (g *Gateway) Broadcast(ctx context.Context, u *tele.Update) (int, error) {
	if !g.opt.SealFrames {
		payload, err := g.opt.Codec.EncodeUpdate(u)
		if err != nil {
			return 0, err
		}
		return g.server.Broadcast(ctx, telenet.Frame(payload)), nil
	}

	n := 0
	for _, s := range g.snapshot() {
		if s.ep.Conn.Closed() {
			continue
		}
		size, err := s.send(ctx, u)
		if err != nil {
			g.log.Debugf("broadcast id=%s err=%v", s.ep.Conn.ID(), err)
			continue
		}
		g.server.RegisterBroadcast(size)
		n++
	}
	return n, nil
}

func (g *Gateway) snapshot() []*session {
	g.mu.RLock()
	list := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		list = append(list, s)
	}
	g.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ep.Conn.ID() < list[j].ep.Conn.ID() })
	return list
}

func (g *Gateway) serve(ctx context.Context, conn telenet.Conn) error {
	var sealer *telenet.Sealer
	if g.opt.SealFrames {
		var err error
		if sealer, err = telenet.NewSealer(g.opt.Secret); err != nil {
			return errors.Annotate(err, "session sealer")
		}
	}
	effects := tele.NewEffects()
	s := &session{
		ep:       telenet.NewEndpoint(conn, g.opt.Codec, sealer, g.log),
		effects:  effects,
		producer: tele.NewProducer(g.opt.NewSampler(effects)),
	}
	id := conn.ID()
	helpers.WithLock(&g.mu, func() { g.sessions[id] = s })
	defer helpers.WithLock(&g.mu, func() {
		if g.sessions[id] == s {
			delete(g.sessions, id)
		}
	})

	flow := alive.NewAlive()
	go helpers.AliveSub(g.server.Alive(), flow)
	if g.opt.UpdateInterval > 0 && flow.Add(1) {
		go func() {
			defer flow.Done()
			g.push(ctx, flow, s)
		}()
	}

	err := g.commandLoop(ctx, s)
	flow.Stop()
	flow.Wait()
	return err
}

// push sends periodic telemetry until flow is stopped or session breaks.
func (g *Gateway) push(ctx context.Context, flow *alive.Alive, s *session) {
	tmr := time.NewTicker(g.opt.UpdateInterval)
	defer tmr.Stop()
	for {
		select {
		case <-tmr.C:
		case <-flow.StopChan():
			return
		case <-ctx.Done():
			return
		}
		u, err := s.producer.Next()
		if err != nil {
			g.log.Errorf("sample id=%s err=%v", s.ep.Conn.ID(), err)
			continue
		}
		if _, err := s.send(ctx, u); err != nil {
			if errors.Cause(err) != telenet.ErrClosing {
				g.log.Errorf("push id=%s err=%v", s.ep.Conn.ID(), err)
			}
			return
		}
	}
}

func (g *Gateway) commandLoop(ctx context.Context, s *session) error {
	id := s.ep.Conn.ID()
	for {
		cmd, ok, err := s.ep.ReceiveCommand(ctx)
		switch errors.Cause(err) {
		case nil:
		case tele.ErrMalformedPayload, tele.ErrUnexpectedKind:
			g.log.Infof("command id=%s ignored err=%v", id, err)
			continue
		default:
			return err
		}
		if !ok {
			continue
		}
		s.effects.Apply(cmd)
		g.log.Debugf("command id=%s seq=%d applied=%d", id, cmd.Seq, s.effects.Applied())
		if g.opt.OnCommand != nil {
			g.opt.OnCommand(id, cmd)
		}
		if g.opt.AckCommands {
			if _, err := s.send(ctx, g.ack(s, cmd)); err != nil {
				return errors.Annotatef(err, "ack seq=%d", cmd.Seq)
			}
		}
	}
}

// ack reports folded PWM state, carrying seq of acknowledged command.
func (g *Gateway) ack(s *session, cmd *tele.Command) *tele.Update {
	return &tele.Update{
		TimestampMs: time.Now().UnixNano() / int64(time.Millisecond),
		Seq:         cmd.Seq,
		PWM:         map[string]tele.PWMState{PWMDevice: s.effects.PWMState(g.opt.PWMChannels)},
	}
}

func (s *session) send(ctx context.Context, u *tele.Update) (int, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.ep.SendUpdateN(ctx, u)
}
