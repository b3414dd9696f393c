package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/logging"
)

// Channel is the CAD side's view of the agent: it sends messages and
// receives events. Receive honours ctx so callers can wake up periodically.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Receive(ctx context.Context) (Event, error)
	// Reset drops the current connection; the next Send reconnects.
	Reset()
	Close() error
}

var ErrNotConnected = errors.Sentinel("not connected to the agent")

type received struct {
	event Event
	err   error
}

// Client is a Channel over TCP that dials lazily and redials after Reset.
type Client struct {
	addr   string
	secret string
	log    *zap.Logger

	mu       sync.Mutex
	conn     *Conn
	incoming chan received
	done     chan struct{}
}

func NewClient(addr, secret string, log *zap.Logger) *Client {
	if addr == "" {
		addr = DefaultAddress
	}
	return &Client{addr: addr, secret: secret, log: logging.OrNop(log)}
}

func (c *Client) connect(ctx context.Context) (*Conn, chan received, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, c.incoming, nil
	}
	conn, err := Dial(ctx, c.addr, c.secret)
	if err != nil {
		return nil, nil, err
	}
	incoming := make(chan received, 64)
	done := make(chan struct{})
	go readLoop(conn, incoming, done)
	c.conn, c.incoming, c.done = conn, incoming, done
	c.log.Info("connected to agent", zap.String("address", c.addr))
	return conn, incoming, nil
}

// readLoop feeds one connection's events into incoming until the first error,
// which it delivers before closing the channel. It gives up once done closes.
func readLoop(conn *Conn, incoming chan<- received, done <-chan struct{}) {
	defer close(incoming)
	for {
		var ev Event
		err := conn.Receive(&ev)
		select {
		case incoming <- received{event: ev, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) Send(ctx context.Context, m Message) error {
	conn, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Send(m)
}

func (c *Client) Receive(ctx context.Context) (Event, error) {
	c.mu.Lock()
	incoming := c.incoming
	c.mu.Unlock()
	if incoming == nil {
		return Event{}, ErrNotConnected
	}
	select {
	case r, ok := <-incoming:
		if !ok {
			return Event{}, ErrNotConnected
		}
		return r.event, r.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		close(c.done)
		c.conn.Close()
		c.log.Info("dropped agent connection", zap.String("address", c.addr))
	}
	c.conn, c.incoming, c.done = nil, nil, nil
}

func (c *Client) Close() error {
	c.Reset()
	return nil
}
