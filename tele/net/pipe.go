package telenet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// queue is unbounded FIFO with blocking pop.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newQueue() *queue {
	return &queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *queue) push(b []byte) error {
	select {
	case <-q.done:
		return ErrClosing
	default:
	}
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.done:
			// drain what was pushed before close
			q.mu.Lock()
			n := len(q.items)
			q.mu.Unlock()
			if n == 0 {
				return nil, ErrClosing
			}
		case <-ctx.Done():
			return nil, ctxError(ctx)
		}
	}
}

func (q *queue) close() { q.once.Do(func() { close(q.done) }) }

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type pipeShared struct {
	closed uint32
	code   int32
	reason atomic.Value
	a2b    *queue
	b2a    *queue
}

type pipeConn struct {
	id     string
	in     *queue
	out    *queue
	shared *pipeShared
	stat   SessionStat
}

// NewPipe returns two connected in-memory Conn ends.
// Closing either end closes the session for both.
func NewPipe(id string) (Conn, Conn) {
	sh := &pipeShared{a2b: newQueue(), b2a: newQueue()}
	a := &pipeConn{id: id, in: sh.b2a, out: sh.a2b, shared: sh}
	b := &pipeConn{id: id, in: sh.a2b, out: sh.b2a, shared: sh}
	a.stat.Conn.Set(1)
	b.stat.Conn.Set(1)
	return a, b
}

func (c *pipeConn) Send(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return ctxError(ctx)
	}
	if c.Closed() {
		return ErrClosing
	}
	if err := c.out.push(b); err != nil {
		return err
	}
	c.stat.Send.Register(len(b))
	return nil
}

func (c *pipeConn) Receive(ctx context.Context) ([]byte, error) {
	b, err := c.in.pop(ctx)
	if err != nil {
		return nil, err
	}
	c.stat.Recv.Register(len(b))
	return b, nil
}

func (c *pipeConn) Close(code int, reason string) error {
	if !atomic.CompareAndSwapUint32(&c.shared.closed, 0, 1) {
		return nil
	}
	atomic.StoreInt32(&c.shared.code, int32(code))
	c.shared.reason.Store(reason)
	c.shared.a2b.close()
	c.shared.b2a.close()
	c.stat.Conn.Set(0)
	return nil
}

// CloseStatus returns code and reason given to Close by either end.
func (c *pipeConn) CloseStatus() (int, string) {
	reason, _ := c.shared.reason.Load().(string)
	return int(atomic.LoadInt32(&c.shared.code)), reason
}

func (c *pipeConn) Closed() bool       { return atomic.LoadUint32(&c.shared.closed) != 0 }
func (c *pipeConn) ID() string         { return c.id }
func (c *pipeConn) Stat() *SessionStat { return &c.stat }
func (c *pipeConn) String() string     { return fmt.Sprintf("pipe(%s)", c.id) }

// CloseStatus returns code and reason of closed conn when transport remembers it.
func CloseStatus(c Conn) (int, string, bool) {
	if cs, ok := c.(interface{ CloseStatus() (int, string) }); ok && c.Closed() {
		code, reason := cs.CloseStatus()
		return code, reason, true
	}
	return 0, "", false
}
