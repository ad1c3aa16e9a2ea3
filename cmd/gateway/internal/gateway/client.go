package gateway

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/hub"
)

const (
	maxMessageSize = 512 * 1024
)

type Options struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func DefaultOptions() Options {
	return Options{
		WriteWait:  5 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 50 * time.Second,
	}
}

// Client adapts a server-side websocket connection to hub.Conn. Subscribers are
// read-only: the read pump only services control frames and detects disconnects.
type Client struct {
	conn    net.Conn
	hub     *hub.Hub
	session *hub.Session
	logger  *zap.Logger
	opts    Options

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, opts Options) *Client {
	def := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}

	return &Client{
		conn:   conn,
		hub:    h,
		logger: logger.With(zap.String("remote", conn.RemoteAddr().String())),
		opts:   opts,
	}
}

// Start joins the hub and spawns the read pump and ping loop.
func (c *Client) Start() error {
	session, err := c.hub.Join(c)
	if err != nil {
		c.Close()
		return err
	}
	c.session = session

	go c.pingLoop()
	go c.readPump()
	return nil
}

func (c *Client) WriteFrame(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return wsutil.WriteServerText(c.conn, b)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// skip the close frame if a write is in flight; closing the socket unblocks it
		if c.writeMu.TryLock() {
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.Write(ws.CompiledClose)
			c.writeMu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readPump() {
	defer c.hub.Leave(c.session)

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			c.logger.Debug("Read failed", zap.Error(err))
			return
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		case ws.OpPing:
			c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
			if err := c.writeControl(ws.OpPong, payload); err != nil {
				return
			}
		default:
			// no inbound protocol
			c.logger.Debug("Ignoring subscriber message", zap.Int64("size", header.Length))
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.session.Done():
			return
		case <-ticker.C:
			if err := c.writeControl(ws.OpPing, nil); err != nil {
				c.hub.Leave(c.session)
				return
			}
		}
	}
}

func (c *Client) writeControl(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return wsutil.WriteServerMessage(c.conn, op, payload)
}
