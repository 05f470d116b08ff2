package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/alanyang/task-mesh/internal/domain/message"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
)

var _ porttransport.MasterLink = (*Client)(nil)

type ClientConfig struct {
	// URL of the master's link endpoint, e.g. ws://master:8080/api/link.
	URL                  string
	ControllerID         string
	Codec                string
	RequestTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

// Client is the controller end of the link. It keeps one websocket open to
// the master, reconnecting with exponential backoff, and correlates request
// and response frames.
type Client struct {
	cfg     ClientConfig
	codec   Codec
	dialer  *websocket.Dialer
	handler porttransport.DispatchHandler

	mu      sync.Mutex
	conn    *clientConn
	ready   chan struct{}
	pending map[string]chan *Frame
}

type clientConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *clientConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close() //nolint:errcheck
	})
}

func NewClient(cfg ClientConfig, handler porttransport.DispatchHandler) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		codec:   CodecFor(cfg.Codec),
		dialer:  websocket.DefaultDialer,
		handler: handler,
		ready:   make(chan struct{}),
		pending: make(map[string]chan *Frame),
	}
}

// SetHandler wires the receiver of master commands. The controller and the
// client refer to each other, so one side is set after construction.
func (c *Client) SetHandler(h porttransport.DispatchHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Run keeps the connection up until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	target, err := c.endpoint()
	if err != nil {
		return err
	}
	for {
		conn, err := c.dial(ctx, target)
		if err != nil {
			return err
		}
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		slog.WarnContext(ctx, "link: connection to master lost, reconnecting", "url", c.cfg.URL)
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse link url: %w", err)
	}
	q := u.Query()
	q.Set("codec", c.codec.Name())
	if c.cfg.ControllerID != "" {
		q.Set("controller_id", c.cfg.ControllerID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = c.cfg.MaxReconnectInterval
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		ws, _, err := c.dialer.DialContext(ctx, target, nil)
		if err != nil {
			return err
		}
		conn = ws
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "link: dial failed", "url", c.cfg.URL, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dial master: %w", err)
	}
	slog.InfoContext(ctx, "link: connected to master", "url", c.cfg.URL, "codec", c.codec.Name())
	return conn, nil
}

func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	conn := &clientConn{ws: ws, send: make(chan []byte, defaultSendBuffer), done: make(chan struct{})}

	c.mu.Lock()
	c.conn = conn
	close(c.ready)
	c.mu.Unlock()

	go c.writePump(conn)
	stop := context.AfterFunc(ctx, conn.close)
	c.readPump(ctx, conn)
	stop()
	conn.close()

	c.mu.Lock()
	c.conn = nil
	c.ready = make(chan struct{})
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) writePump(conn *clientConn) {
	for {
		select {
		case <-conn.done:
			return
		case data := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(c.codec.MessageType(), data); err != nil {
				slog.Warn("link: write to master failed", "error", err)
				conn.close()
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *clientConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := c.codec.Decode(data)
		if err != nil {
			slog.WarnContext(ctx, "link: undecodable frame from master dropped", "error", err)
			continue
		}
		switch f.Type {
		case FrameResponse, FrameErr:
			c.mu.Lock()
			ch, ok := c.pending[f.CorrelID]
			delete(c.pending, f.CorrelID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case FrameEvent:
			c.onEvent(ctx, f)
		}
	}
}

// onEvent hands master commands to the handler off the read loop, since the
// handler answers with requests of its own.
func (c *Client) onEvent(ctx context.Context, f *Frame) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		slog.WarnContext(ctx, "link: no handler for master command", "method", f.Method)
		return
	}

	switch f.Method {
	case MethodDispatch:
		var d message.Dispatch
		if err := json.Unmarshal(f.Data, &d); err != nil {
			slog.WarnContext(ctx, "link: bad dispatch payload", "error", err)
			return
		}
		go func() {
			if err := h.OnDispatch(ctx, d); err != nil {
				slog.DebugContext(ctx, "link: dispatch not accepted", "task_id", d.TaskID, "error", err)
			}
		}()
	case MethodShutdown:
		var msg message.Shutdown
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			slog.WarnContext(ctx, "link: bad shutdown payload", "error", err)
		}
		go h.OnShutdown(ctx, msg)
	default:
		slog.WarnContext(ctx, "link: unknown master command", "method", f.Method)
	}
}

// request sends one frame and waits for its correlated response. It waits
// for a live connection for at most the request timeout.
func (c *Client) request(ctx context.Context, method string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	f, err := newFrame(FrameRequest, method, payload)
	if err != nil {
		return err
	}
	data, err := c.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("%s: encode frame: %w", method, err)
	}

	conn, err := c.waitConn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	ch := make(chan *Frame, 1)
	c.mu.Lock()
	c.pending[f.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	select {
	case conn.send <- data:
	case <-conn.done:
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrNotConnected)
		}
		if resp.Type == FrameErr && resp.Error != nil {
			return &RemoteError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	}
}

func (c *Client) waitConn(ctx context.Context) (*clientConn, error) {
	for {
		c.mu.Lock()
		conn, ready := c.conn, c.ready
		c.mu.Unlock()
		if conn != nil {
			return conn, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrNotConnected
			}
			return nil, ctx.Err()
		}
	}
}

func (c *Client) Register(ctx context.Context, reg message.Registration) error {
	return c.request(ctx, MethodRegister, reg, nil)
}

func (c *Client) Deregister(ctx context.Context, dereg message.Deregistration) error {
	return c.request(ctx, MethodDeregister, dereg, nil)
}

func (c *Client) Heartbeat(ctx context.Context, hb message.Heartbeat) error {
	return c.request(ctx, MethodHeartbeat, hb, nil)
}

func (c *Client) Ack(ctx context.Context, ack message.Ack) error {
	return c.request(ctx, MethodAck, ack, nil)
}

func (c *Client) Report(ctx context.Context, report message.StatusReport) error {
	return c.request(ctx, MethodReport, report, nil)
}
