// Package wsremote connects the synchronization gateway to a remote
// controller over a websocket.
package wsremote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/osa030/guildplay/internal/app/remote"
)

var ErrNotConnected = errors.New("remote link not connected")

const readLimit = 4 << 20

// Handler consumes inbound messages. Replies are written through out.
type Handler interface {
	Handle(ctx context.Context, data []byte, out remote.Sender) error
}

// Config represents remote link configuration.
type Config struct {
	URL            string
	Token          string
	BotID          string
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
}

// Client is a reconnecting websocket client. Writes are serialized.
type Client struct {
	config  Config
	handler Handler

	mu     sync.Mutex
	conn   *websocket.Conn
	connID string
}

// New creates a new remote link client.
func New(cfg Config, handler Handler) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{config: cfg, handler: handler}
}

// Run keeps the link up until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		zlog.Warn().Msgf("wsremote: link down, reconnecting: delay=%v error=%v", c.config.ReconnectDelay, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

// runOnce dials and reads until the connection fails.
func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", c.config.Token)
	}
	if c.config.BotID != "" {
		header.Set("X-Bot-Id", c.config.BotID)
	}

	conn, _, err := websocket.Dial(ctx, c.config.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return errors.Wrap(err, "failed to dial remote")
	}
	conn.SetReadLimit(readLimit)

	id := uuid.New().String()
	c.mu.Lock()
	c.conn = conn
	c.connID = id
	c.mu.Unlock()
	zlog.Info().Msgf("wsremote: connected: url=%s conn=%s", c.config.URL, id)

	defer func() {
		c.mu.Lock()
		if c.connID == id {
			c.conn = nil
			c.connID = ""
		}
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return errors.Wrapf(err, "remote closed the link: conn=%s", id)
			}
			return errors.Wrapf(err, "failed to read: conn=%s", id)
		}
		if typ != websocket.MessageText {
			continue
		}
		// Gateway errors are per message; the link stays up.
		_ = c.handler.Handle(ctx, data, c)
	}
}

// Send writes one JSON message to the remote.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return errors.Wrapf(err, "failed to write: conn=%s", c.connID)
	}
	return nil
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
