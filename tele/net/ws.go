package telenet

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
)

const (
	Subprotocol = "binary"

	HeaderNonce     = "X-Sensorlink-Nonce"
	HeaderSignature = "X-Sensorlink-Signature"
	HeaderTOTP      = "X-Sensorlink-Totp"
)

// ServeHTTP checks credentials once, before websocket upgrade, then serves session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeRequest(r); err != nil {
		s.rejected.Add(1)
		s.log.Infof("ws reject addr=%s err=%v", r.RemoteAddr, err)
		if s.opt.RejectAfterUpgrade {
			if ws, uerr := s.upgrader.Upgrade(w, r, nil); uerr == nil {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(CloseInvalidToken, "invalid token"),
					time.Now().Add(time.Second))
				_ = ws.Close()
			}
			return
		}
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !s.alive.Add(1) {
		http.Error(w, "server is closing", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.alive.Done()
		s.log.Debugf("ws upgrade addr=%s err=%v", r.RemoteAddr, err)
		return
	}
	conn := newWSConn(s.newID(), ws, s.log, s.opt.NetworkTimeout, s.opt.ReadLimit)
	s.register(conn)
	go s.processConn(conn)
}

func (s *Server) authorizeRequest(r *http.Request) error {
	authz := r.Header.Get("Authorization")
	token, ok := BearerToken(authz)
	if !ok && s.token != "" {
		return errors.Annotate(ErrProvisioning, "missing bearer token")
	}
	if err := s.Authorize(token); err != nil {
		return err
	}
	if s.handshake != nil {
		nonce, err1 := hex.DecodeString(r.Header.Get(HeaderNonce))
		sig, err2 := hex.DecodeString(r.Header.Get(HeaderSignature))
		if err1 != nil || err2 != nil {
			return errors.Annotate(ErrProvisioning, "handshake headers")
		}
		if err := s.handshake.Check(nonce, authz, sig); err != nil {
			return errors.Annotate(ErrProvisioning, err.Error())
		}
	}
	if s.totp != nil {
		ok, err := s.totp.Verify(time.Now(), r.Header.Get(HeaderTOTP))
		if err != nil {
			return errors.Trace(err)
		}
		if !ok {
			return errors.Annotate(ErrProvisioning, "totp")
		}
	}
	return nil
}

type DialOptions struct {
	Log   *log2.Log
	Token string
	// Expected TLS peer name, usually discovery peer identity.
	ServerName     string
	TLS            *tls.Config
	Handshake      *Handshake
	TOTP           *TOTP
	NetworkTimeout time.Duration
	ReadLimit      int64
}

// Dial opens client side websocket session. HTTP 401 maps to ErrProvisioning.
func Dial(ctx context.Context, uri string, opt DialOptions) (Conn, error) {
	scheme, _, err := parseURI(uri)
	if err != nil {
		return nil, errors.Annotatef(err, "uri=%s", uri)
	}
	if scheme != "ws" && scheme != "wss" {
		return nil, errors.NotValidf("uri=%s scheme", uri)
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = DefaultReadLimit
	}

	header := http.Header{}
	authz := ""
	if opt.Token != "" {
		authz = BearerHeader(opt.Token)
		header.Set("Authorization", authz)
	}
	if opt.Handshake != nil {
		nonce, err := NewNonce()
		if err != nil {
			return nil, err
		}
		header.Set(HeaderNonce, hex.EncodeToString(nonce))
		header.Set(HeaderSignature, hex.EncodeToString(opt.Handshake.Respond(nonce, authz)))
	}
	if opt.TOTP != nil {
		code, err := opt.TOTP.Code(time.Now())
		if err != nil {
			return nil, errors.Annotate(err, "totp")
		}
		header.Set(HeaderTOTP, code)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opt.NetworkTimeout,
		Subprotocols:     []string{Subprotocol},
		Proxy:            http.ProxyFromEnvironment,
	}
	if scheme == "wss" {
		config := opt.TLS
		if config == nil {
			config = &tls.Config{}
		}
		if opt.ServerName != "" {
			config = config.Clone()
			config.ServerName = opt.ServerName
		}
		dialer.TLSClientConfig = config
	}

	ws, resp, err := dialer.DialContext(ctx, uri, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if err == websocket.ErrBadHandshake && resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Annotatef(ErrProvisioning, "uri=%s status=%s", uri, resp.Status)
		}
		return nil, errors.Annotatef(err, "dial uri=%s", uri)
	}
	opt.Log.Debugf("ws connected uri=%s subprotocol=%s", uri, ws.Subprotocol())
	return newWSConn(uri, ws, opt.Log, opt.NetworkTimeout, opt.ReadLimit), nil
}

// wsConn reads websocket in background goroutine into unbounded queue,
// so Receive timeout never breaks the underlying connection.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	in      *queue
	log     *log2.Log
	timeout time.Duration
	wmu     sync.Mutex
	closed  uint32
	err     helpers.AtomicError
	stat    SessionStat
}

func newWSConn(id string, ws *websocket.Conn, log *log2.Log, timeout time.Duration, readLimit int64) *wsConn {
	c := &wsConn{
		id:      id,
		ws:      ws,
		in:      newQueue(),
		log:     log,
		timeout: timeout,
	}
	ws.SetReadLimit(readLimit)
	c.stat.Conn.Set(1)
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	for {
		mt, b, err := c.ws.ReadMessage()
		if err != nil {
			c.die(err)
			return
		}
		if mt != websocket.BinaryMessage {
			c.log.Debugf("ws id=%s ignore message type=%d", c.id, mt)
			_ = c.write(context.Background(), websocket.TextMessage, []byte("text frames are not supported"))
			continue
		}
		if err := c.in.push(b); err != nil {
			return
		}
	}
}

func (c *wsConn) write(ctx context.Context, mt int, b []byte) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(mt, b)
}

func (c *wsConn) Send(ctx context.Context, b []byte) error {
	if c.Closed() {
		return ErrClosing
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := c.write(ctx, websocket.BinaryMessage, b); err != nil {
		return c.die(errors.Annotate(err, "ws send"))
	}
	c.stat.Send.Register(len(b))
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	b, err := c.in.pop(ctx)
	if err != nil {
		if errors.Cause(err) == ErrClosing {
			return nil, c.closeReason()
		}
		return nil, err
	}
	c.stat.Recv.Register(len(b))
	return b, nil
}

func (c *wsConn) closeReason() error {
	err, _ := c.err.Load()
	if ce, ok := errors.Cause(err).(*websocket.CloseError); ok {
		if ce.Code == CloseInvalidToken {
			return errors.Annotatef(ErrProvisioning, "peer close code=%d reason=%s", ce.Code, ce.Text)
		}
		return errors.Annotatef(ErrClosing, "peer close code=%d reason=%s", ce.Code, ce.Text)
	}
	if err != nil && err != ErrClosing {
		return errors.Annotate(ErrClosing, err.Error())
	}
	return ErrClosing
}

func (c *wsConn) Close(code int, reason string) error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	c.err.StoreOnce(ErrClosing)
	c.wmu.Lock()
	werr := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	c.in.close()
	c.stat.Conn.Set(0)
	if err := c.ws.Close(); err != nil {
		return errors.Trace(err)
	}
	if werr != nil && werr != websocket.ErrCloseSent {
		c.log.Debugf("ws id=%s close write err=%v", c.id, werr)
	}
	return nil
}

// die records first error and tears down connection without close handshake.
func (c *wsConn) die(e error) error {
	c.err.StoreOnce(e)
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		c.in.close()
		c.stat.Conn.Set(0)
		_ = c.ws.Close()
	}
	return e
}

func (c *wsConn) Closed() bool       { return atomic.LoadUint32(&c.closed) != 0 }
func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) Stat() *SessionStat { return &c.stat }
func (c *wsConn) String() string {
	return fmt.Sprintf("ws(%s %s)", c.id, addrString(c.ws.RemoteAddr()))
}
