// Package wire carries protocol envelopes over websocket text frames. It is
// shared by the Station and by both client actors.
package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

const (
	DefaultReadLimit    = 1 << 20
	DefaultPingInterval = 30 * time.Second
	pingWriteTimeout    = 5 * time.Second
	pongTimeout         = 30 * time.Second
	closeGracePeriod    = time.Second
)

// Options tunes a Conn. Zero values select the defaults.
type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Conn is one websocket peer. Writes are serialised; reads must come from a
// single goroutine.
type Conn struct {
	ws           *websocket.Conn
	handle       string
	remote       string
	writeTimeout time.Duration
	pingInterval time.Duration

	writeMu      sync.Mutex
	wg           sync.WaitGroup
	closeOnce    sync.Once
	done         chan struct{}
	pingReset    chan struct{}
	pongReceived chan struct{}
}

// New wraps an established websocket and starts its keepalive loop.
func New(ws *websocket.Conn, opts Options) *Conn {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	ws.SetReadLimit(opts.ReadLimit)

	c := &Conn{
		ws:           ws,
		handle:       ids.CreateULID(),
		remote:       remoteAddr(ws.RemoteAddr()),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		done:         make(chan struct{}),
		pingReset:    make(chan struct{}, 1),
		pongReceived: make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		select {
		case c.pongReceived <- struct{}{}:
		case <-c.done:
		}
		return nil
	})
	c.wg.Add(1)
	go c.pingLoop()
	return c
}

// Dial connects to a Station endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (HTTP status %s)", errspkg.ErrNotConnected, url, err, resp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", errspkg.ErrNotConnected, url, err)
	}
	return New(ws, opts), nil
}

// Handle is a process-local identifier for this connection. It is never
// sent over the wire.
func (c *Conn) Handle() string {
	return c.handle
}

// RemoteAddr is the peer's network address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send encodes m and writes it as one text frame.
func (c *Conn) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.WriteRaw(frame)
}

// WriteRaw writes frame verbatim as one text frame.
func (c *Conn) WriteRaw(frame []byte) error {
	select {
	case <-c.done:
		return errspkg.ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	} else {
		// Clear whatever deadline the last ping left behind.
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	err := c.ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write frame: %v", errspkg.ErrNotConnected, err)
	}

	select {
	case c.pingReset <- struct{}{}:
	default:
	}
	return nil
}

// ReadFrame blocks until the next data frame arrives. It returns io.EOF style
// errors from gorilla/websocket once the peer goes away.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and releases the socket. It is safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
		c.wg.Wait()
	})
	return err
}

// IsClosed reports whether err signals the end of the connection rather than
// a transient failure.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, errspkg.ErrNotConnected) ||
		websocket.IsUnexpectedCloseError(err)
}

// pingLoop sends periodic ping frames when the connection is idle.
func (c *Conn) pingLoop() {
	pingTimer := time.NewTimer(c.pingInterval)
	defer c.wg.Done()
	defer pingTimer.Stop()

	for {
		select {
		case <-c.done:
			return

		case <-c.pingReset:
			if !pingTimer.Stop() {
				select {
				case <-pingTimer.C:
				default:
				}
			}
			pingTimer.Reset(c.pingInterval)

		case <-pingTimer.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(pingWriteTimeout))
			_ = c.ws.WriteMessage(websocket.PingMessage, nil)
			_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
			c.writeMu.Unlock()
			pingTimer.Reset(c.pingInterval)

		case <-c.pongReceived:
			_ = c.ws.SetReadDeadline(time.Time{})
		}
	}
}

func remoteAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
