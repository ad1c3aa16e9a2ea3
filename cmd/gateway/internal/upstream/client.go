package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

var ErrConnection = errors.New("upstream: connection failed")

// Sink accepts normalized ticks in arrival order.
type Sink interface {
	Submit(ctx context.Context, t models.Tick) error
}

type Config struct {
	URL              string
	Token            string
	Symbols          []string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// Client keeps a single connection to the trade feed open for as long as Run is running,
// reconnecting with exponential backoff and re-subscribing the watch-list each time.
type Client struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger
	dialer *websocket.Dialer

	connected atomic.Bool
	connects  atomic.Int64
}

func NewClient(cfg Config, sink Sink, logger *zap.Logger) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}

	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}

	return &Client{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		dialer: &dialer,
	}
}

// Connected reports whether a subscribed session is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Connects is the number of sessions that got as far as subscribing.
func (c *Client) Connects() int64 { return c.connects.Load() }

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()
	return b
}

// Run blocks until ctx is cancelled. Connection failures are never returned; they are
// logged and retried.
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff()

	for {
		err := c.session(ctx, b)
		if ctx.Err() != nil {
			c.logger.Info("Upstream client stopped")
			return nil
		}

		wait := b.NextBackOff()
		c.logger.Warn("Upstream disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("Upstream client stopped")
			return nil
		case <-timer.C:
		}
	}
}

// session dials, subscribes and consumes until the connection fails.
func (c *Client) session(ctx context.Context, b backoff.BackOff) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.Reset()
	c.connects.Add(1)
	c.connected.Store(true)
	defer c.connected.Store(false)

	// a blocked ReadMessage only returns once the socket is closed
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", ErrConnection, err)
		}
		c.handle(ctx, message)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	c.logger.Info("Connecting to upstream", zap.String("url", redact(target)))

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}

	for _, symbol := range c.cfg.Symbols {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteJSON(models.SubscribeRequest{Type: models.TypeSubscribe, Symbol: symbol}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: subscribe %s: %v", ErrConnection, symbol, err)
		}
	}

	c.logger.Info("Upstream subscribed", zap.Strings("symbols", c.cfg.Symbols))
	return conn, nil
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	msg, err := models.DecodeFeedMessage(raw)
	if err != nil {
		c.logger.Warn("Dropping upstream frame", zap.Error(err), zap.Int("size", len(raw)))
		return
	}

	switch msg.Type {
	case models.TypeTrade:
		ticks, skipped := msg.Ticks()
		if skipped > 0 {
			c.logger.Warn("Skipped invalid trade entries", zap.Int("skipped", skipped))
		}
		for _, t := range ticks {
			if err := c.sink.Submit(ctx, t); err != nil {
				c.logger.Debug("Tick not submitted", zap.String("symbol", t.Symbol), zap.Error(err))
				return
			}
		}
	case models.TypePing:
	case models.TypeError:
		c.logger.Error("Upstream reported error", zap.String("msg", msg.Msg))
	default:
		c.logger.Debug("Ignoring upstream message", zap.String("type", msg.Type))
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("upstream: invalid url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
