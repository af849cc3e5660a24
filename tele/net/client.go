package telenet

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensorlink/helpers"
)

const DefaultRetryDelay = 3 * time.Second

// Client keeps HMI side session to sensor node, redialing with backoff.
// Authorization failure is terminal and not retried.
type Client struct {
	sync.Mutex // protects current
	alive      *alive.Alive
	current    Conn
	opt        ClientOptions
	stat       SessionStat
	backoff    *helpers.Backoff
}

type ClientOptions struct {
	DialOptions
	URI        string
	RetryDelay time.Duration
	// Dial replaces websocket Dial, for tests and alternative transports.
	Dial func(ctx context.Context, uri string, opt DialOptions) (Conn, error)
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Dial == nil {
		if _, _, err := parseURI(opt.URI); err != nil {
			return nil, errors.Annotatef(err, "config error uri=%s", opt.URI)
		}
		opt.Dial = Dial
	}
	if opt.RetryDelay == 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	c := &Client{
		alive: alive.NewAlive(),
		backoff: &helpers.Backoff{
			Min: opt.RetryDelay,
			Max: 10 * opt.RetryDelay,
			K:   2,
		},
		opt: opt,
	}
	return c, nil
}

func (c *Client) Close() error {
	c.alive.Stop()
	c.Lock()
	conn := c.getConn()
	c.current = nil
	c.Unlock()
	var err error
	if conn != nil {
		err = conn.Close(CloseNormal, "client shutdown")
		c.stat.Add(conn.Stat())
	}
	c.alive.Wait()
	return err
}

func (c *Client) Stat() *SessionStat { return &c.stat }

// Conn returns current session or establishes new one.
func (c *Client) Conn(ctx context.Context) (Conn, error) {
	if !c.alive.Add(1) {
		return nil, ErrClosing
	}
	defer c.alive.Done()

	c.Lock()
	defer c.Unlock()
	if conn := c.getConn(); conn != nil {
		return conn, nil
	}

	delay := c.backoff.DelayBefore()
	if delay > 0 {
		c.opt.Log.Debugf("reconnect delay=%s", delay)
	}
	if err := c.sleep(ctx, delay); err != nil {
		return nil, err
	}
	// Close must not wait for caller ctx while dial holds the lock
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.alive.StopChan():
			cancel()
		case <-dialCtx.Done():
		}
	}()
	conn, err := c.opt.Dial(dialCtx, c.opt.URI, c.opt.DialOptions)
	select {
	case <-c.alive.StopChan():
		if conn != nil {
			_ = conn.Close(CloseNormal, "client shutdown")
		}
		return nil, ErrClosing
	default:
	}
	if err != nil {
		c.backoff.Failure()
		return nil, err
	}
	c.backoff.Reset()
	c.current = conn
	return conn, nil
}

// Run serves sessions with f until ctx is done, client closed or authorization fails.
func (c *Client) Run(ctx context.Context, f func(context.Context, Conn) error) error {
	for {
		conn, err := c.Conn(ctx)
		switch errors.Cause(err) {
		case nil:
		case ErrProvisioning, ErrClosing, context.Canceled, context.DeadlineExceeded:
			return err
		default:
			c.opt.Log.Errorf("connect uri=%s err=%v", c.opt.URI, err)
			continue
		}

		err = f(ctx, conn)
		_ = conn.Close(CloseNormal, "")
		switch errors.Cause(err) {
		case ErrProvisioning, context.Canceled, context.DeadlineExceeded:
			return err
		}
		if ctx.Err() != nil {
			return errors.Trace(ctx.Err())
		}
		c.opt.Log.Infof("session lost uri=%s err=%v", c.opt.URI, err)
		c.backoff.Failure()
	}
}

// must be called with lock
func (c *Client) getConn() Conn {
	if c.current != nil && c.current.Closed() {
		c.stat.Add(c.current.Stat())
		c.current = nil
	}
	return c.current
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return nil

	case <-ctx.Done():
		return errors.Trace(ctx.Err())

	case <-c.alive.StopChan():
		return ErrClosing
	}
}
