// Package signaling is the client end of the coordinator socket.
package signaling

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("signaling: connection closed")
	ErrBackpressure = errors.New("signaling: send queue full")
)

type Options struct {
	Header       http.Header
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Client owns one socket: a single writer drains the send queue and a
// single reader decodes coordinator frames onto Messages.
type Client struct {
	conn *websocket.Conn
	opts Options

	send chan []byte
	in   chan protocol.Outbound

	once sync.Once
	done chan struct{}
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn: ws,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		in:   make(chan protocol.Outbound, opts.SendBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	log.Info().Str("module", "signaling").Str("url", url).Msg("connected")
	return c, nil
}

// Messages yields decoded frames and is closed when the socket ends.
func (c *Client) Messages() <-chan protocol.Outbound { return c.in }

func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues m without blocking.
func (c *Client) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Signal relays an opaque negotiation payload to target.
func (c *Client) Signal(t domain.SignalType, target domain.UserID, payload []byte) error {
	return c.Send(&protocol.Signal{Signal: t, TargetID: target, Payload: payload})
}

func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteTimeout))
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signaling").Msg("write failed")
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.Send(&protocol.Ping{}); err != nil && !errors.Is(err, ErrBackpressure) {
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.in)
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signaling").Msg("read failed")
			}
			return
		}
		m, err := protocol.DecodeOutbound(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("bad frame")
			continue
		}
		select {
		case c.in <- m:
		case <-c.done:
			return
		}
	}
}
