package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/pkg/logger"
)

// ErrNotConnected is returned for sends attempted outside an open session.
var ErrNotConnected = errors.New("upstream session not connected")

// ServerEvent is one event received from the realtime session. Raw holds the
// verbatim payload for forwarding; Type and Transcript are the only fields
// the relay inspects.
type ServerEvent struct {
	Type       string
	Transcript string
	Raw        []byte
}

type EventHandler func(event ServerEvent)

type Config struct {
	URL              string
	APIKey           string
	Model            string
	HandshakeTimeout time.Duration
}

// Client is one OpenAI Realtime API session over a WebSocket. Connect is
// asynchronous from the relay's point of view; readiness is its return, and
// session loss is signaled through the OnClose callback.
type Client struct {
	cfg Config

	// mu guards conn and closed together so a Close racing a still-dialing
	// Connect always wins: Connect re-checks closed after the dial and
	// discards the fresh conn instead of resurrecting the session.
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu   sync.Mutex
	connected atomic.Bool

	onEvent EventHandler
	onClose func()
}

func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Client{cfg: cfg}
}

// OnEvent registers the single dispatch function invoked for every server
// event. Must be set before Connect.
func (c *Client) OnEvent(handler EventHandler) {
	c.onEvent = handler
}

// OnClose registers the callback fired once when the session ends, whether
// by Close or by the upstream dropping the socket.
func (c *Client) OnClose(fn func()) {
	c.onClose = fn
}

func (c *Client) Connect(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?model=%s", c.cfg.URL, url.QueryEscape(c.cfg.Model))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("session closed during handshake")
	}
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	logger.Info("Upstream session connected", zap.String("model", c.cfg.Model))

	go c.readLoop()

	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.connected.Store(false)
		if c.onClose != nil {
			c.onClose()
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			logger.Debug("Upstream read ended", zap.Error(err))
			return
		}

		var envelope struct {
			Type       string `json:"type"`
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			logger.Warn("Unparseable upstream event", zap.Error(err))
			continue
		}

		if c.onEvent != nil {
			c.onEvent(ServerEvent{
				Type:       envelope.Type,
				Transcript: envelope.Transcript,
				Raw:        data,
			})
		}
	}
}

// Send forwards one client event verbatim.
func (c *Client) Send(event []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, event); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

// UpdateInstructions replaces the session's system prompt.
func (c *Client) UpdateInstructions(instructions string) error {
	event := struct {
		Type    string `json:"type"`
		Session struct {
			Instructions string `json:"instructions"`
		} `json:"session"`
	}{Type: "session.update"}
	event.Session.Instructions = instructions

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session update: %w", err)
	}

	return c.Send(data)
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close latches the session closed. Called before a dial finishes, the latch
// makes Connect discard the late conn, so the session can never outlive its
// owner.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.connected.Store(false)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
