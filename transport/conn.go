package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/m4xw311/cadlink/errors"
)

// DefaultAddress is where the agent listens when none is configured.
const DefaultAddress = "127.0.0.1:6000"

// HandshakeTimeout bounds the authentication exchange.
const HandshakeTimeout = 10 * time.Second

// Conn is an authenticated connection carrying JSON frames. Send may be
// called from several goroutines; Receive from one.
type Conn struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	writeLock sync.Mutex
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
	}
}

// Dial connects to a listening agent and runs the handshake.
func Dial(ctx context.Context, addr, secret string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing agent at %s", addr)
	}
	_ = c.SetDeadline(time.Now().Add(HandshakeTimeout))
	if err := clientHandshake(c, []byte(secret)); err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "authenticating with agent at %s", addr)
	}
	_ = c.SetDeadline(time.Time{})
	return newConn(c), nil
}

// Send writes v as one JSON frame.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize frame")
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := WriteFrame(c.writer, data); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Receive reads one JSON frame into v.
func (c *Conn) Receive(v any) error {
	data, err := ReadFrame(c.reader)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "malformed frame")
	}
	return nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Listener accepts authenticated connections.
type Listener struct {
	listener net.Listener
	secret   []byte
}

func Listen(addr, secret string) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	return &Listener{listener: l, secret: []byte(secret)}, nil
}

// Accept waits for the next peer and authenticates it. A peer that fails the
// handshake is closed and reported with ErrAuthFailed in the chain; the
// listener stays usable.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(HandshakeTimeout))
	if err := serverHandshake(c, l.secret); err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "handshake with %s", c.RemoteAddr())
	}
	_ = c.SetDeadline(time.Time{})
	return newConn(c), nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) Close() error {
	return l.listener.Close()
}
