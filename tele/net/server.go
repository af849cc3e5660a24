package telenet

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
)

// HandlerFunc serves one established session until it returns.
// ctx is cancelled when server is closing.
type HandlerFunc = func(ctx context.Context, conn Conn) error
type CloseFunc = func(id string, e error)

// Sensor node session server.
// Active set is modified only by session establishment and disconnect.
type Server struct {
	alive *alive.Alive
	conns struct {
		sync.RWMutex
		m map[string]Conn
		// every conn between register and processConn cleanup, including overtaken
		live map[Conn]struct{}
	}
	log       *log2.Log
	token     string
	handshake *Handshake
	totp      *TOTP
	handler   HandlerFunc
	onClose   CloseFunc
	opt       ServerOptions
	seq       uint32
	stat      SessionStat
	rejected  expvar.Int
	upgrader  websocket.Upgrader
}

type ServerOptions struct {
	Log *log2.Log
	// Expected bearer token. Empty means open server.
	Token     string
	Handshake *Handshake
	TOTP      *TOTP
	Handler   HandlerFunc
	OnClose   CloseFunc // session lost, after handler returned

	// Browsers can not read HTTP status of failed websocket upgrade,
	// with this option rejected clients get close code 4401 instead of 401.
	RejectAfterUpgrade bool
	CheckOrigin        func(*http.Request) bool
	NetworkTimeout     time.Duration
	ReadLimit          int64
}

func NewServer(opt ServerOptions) *Server {
	s := &Server{
		alive:     alive.NewAlive(),
		log:       opt.Log,
		token:     opt.Token,
		handshake: opt.Handshake,
		totp:      opt.TOTP,
		handler:   opt.Handler,
		onClose:   opt.OnClose,
		opt:       opt,
	}
	if s.handler == nil {
		s.handler = defaultHandlerDiscard
	}
	if s.opt.NetworkTimeout == 0 {
		s.opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if s.opt.ReadLimit == 0 {
		s.opt.ReadLimit = DefaultReadLimit
	}
	s.conns.m = make(map[string]Conn)
	s.conns.live = make(map[Conn]struct{})
	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  opt.CheckOrigin,
	}
	return s
}

func (s *Server) Alive() *alive.Alive { return s.alive }
func (s *Server) Stat() *SessionStat  { return &s.stat }

// Rejected returns number of failed session establishments.
func (s *Server) Rejected() int64 { return s.rejected.Value() }

// Authorize compares presented token with expected in constant time.
func (s *Server) Authorize(token string) error {
	if s.token == "" {
		return nil
	}
	if !Equal([]byte(token), []byte(s.token)) {
		return errors.Annotate(ErrProvisioning, "invalid token")
	}
	return nil
}

// Accept establishes in-memory session, returns client end.
// On authorization failure nothing is registered.
func (s *Server) Accept(token string) (Conn, error) {
	if err := s.Authorize(token); err != nil {
		s.rejected.Add(1)
		s.log.Infof("accept rejected err=%v", err)
		return nil, err
	}
	client, server := NewPipe(s.newID())
	if err := s.Attach(server); err != nil {
		_ = client.Close(CloseInternalError, err.Error())
		return nil, err
	}
	return client, nil
}

// Attach registers established, already authorized conn and serves it with handler.
func (s *Server) Attach(conn Conn) error {
	if !s.alive.Add(1) {
		return errors.Annotate(ErrClosing, "attach")
	}
	s.register(conn)
	go s.processConn(conn)
	return nil
}

// Broadcast sends same frame to every active session.
// Sessions closed meanwhile are skipped, returns number of successful deliveries.
func (s *Server) Broadcast(ctx context.Context, frame []byte) int {
	n := 0
	for _, conn := range s.Sessions() {
		if conn.Closed() {
			continue
		}
		if err := conn.Send(ctx, frame); err != nil {
			s.log.Debugf("broadcast id=%s err=%v", conn.ID(), err)
			continue
		}
		s.stat.Send.Register(len(frame))
		n++
	}
	return n
}

// RegisterBroadcast accounts one broadcast frame delivered by caller, outside Broadcast.
func (s *Server) RegisterBroadcast(size int) { s.stat.Send.Register(size) }

func (s *Server) Count() int {
	s.conns.RLock()
	defer s.conns.RUnlock()
	return len(s.conns.m)
}

// Sessions returns snapshot of active set, sorted by id.
func (s *Server) Sessions() []Conn {
	s.conns.RLock()
	list := make([]Conn, 0, len(s.conns.m))
	for _, c := range s.conns.m {
		list = append(list, c)
	}
	s.conns.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

func (s *Server) Session(id string) (Conn, bool) {
	s.conns.RLock()
	defer s.conns.RUnlock()
	c, ok := s.conns.m[id]
	return c, ok
}

// Close stops accepting, closes all sessions and waits for handlers to finish.
func (s *Server) Close() error {
	s.alive.Stop()
	errs := make([]error, 0)
	for _, conn := range s.Sessions() {
		if err := conn.Close(CloseNormal, "server shutdown"); err != nil {
			errs = append(errs, errors.Annotatef(err, "close id=%s", conn.ID()))
		}
	}
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

func (s *Server) newID() string {
	return fmt.Sprintf("s%d", nextSeq(&s.seq))
}

func (s *Server) register(conn Conn) {
	id := conn.ID()
	helpers.WithLock(&s.conns, func() {
		// close existing session with same id
		if ex, ok := s.conns.m[id]; ok && ex != conn {
			s.log.Infof("session overtake id=%s ex=%s new=%s", id, ex.String(), conn.String())
			_ = ex.Close(CloseNormal, ErrSameClient.Error())
		}
		s.conns.m[id] = conn
		s.conns.live[conn] = struct{}{}
	})
	s.stat.Conn.Add(1)
	s.log.Debugf("session open id=%s count=%d", id, s.Count())
}

func (s *Server) processConn(conn Conn) {
	defer s.alive.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.handler(ctx, conn)
	switch errors.Cause(err) {
	case nil, ErrClosing, context.Canceled:
		err = nil
		_ = conn.Close(CloseNormal, "")
	default:
		s.log.Errorf("session id=%s err=%v", conn.ID(), err)
		_ = conn.Close(CloseInternalError, err.Error())
	}

	// mandatory cleanup on session closed
	// stat is folded under same lock so Totals never misses this conn
	id := conn.ID()
	helpers.WithLock(&s.conns, func() {
		if ex := s.conns.m[id]; conn == ex {
			delete(s.conns.m, id)
		}
		delete(s.conns.live, conn)
		s.stat.Conn.Add(-1)
		s.stat.Recv.Add(&conn.Stat().Recv)
		s.stat.Dropped.Add(conn.Stat().Dropped.Value())
	})
	s.log.Debugf("session close id=%s stat=%s", id, conn.Stat().String())
	if s.onClose != nil {
		s.onClose(id, err)
	}
}

func defaultHandlerDiscard(ctx context.Context, conn Conn) error {
	for {
		if _, err := conn.Receive(ctx); err != nil {
			return err
		}
	}
}
