// Package transport implements the supervisor's Dialer over gorilla/websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fieldops/fieldlink/internal/client"
	"github.com/fieldops/fieldlink/internal/protocol"
)

const (
	closeGrace     = time.Second
	maxMessageSize = 1 << 20
)

// Dialer opens WebSocket connections to a single endpoint, authenticating
// with the identity's bearer token.
type Dialer struct {
	url    string
	ws     *websocket.Dialer
	log    *zap.Logger
	header http.Header
}

// NewDialer validates rawURL, which must use the ws or wss scheme.
func NewDialer(rawURL string, handshakeTimeout time.Duration, log *zap.Logger) (*Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("URL scheme must be ws or wss, got %q", u.Scheme)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dialer{
		url: u.String(),
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log:    log,
		header: http.Header{},
	}, nil
}

// Dial performs the HTTP upgrade. HTTP-level rejections are mapped onto the
// client's error taxonomy.
func (d *Dialer) Dial(ctx context.Context, id client.Identity) (client.Conn, error) {
	h := d.header.Clone()
	h.Set("Authorization", "Bearer "+id.Token)

	ws, resp, err := d.ws.DialContext(ctx, d.url, h)
	if err != nil {
		return nil, classifyDial(resp, err)
	}
	ws.SetReadLimit(maxMessageSize)
	d.log.Debug("websocket upgraded", zap.String("url", d.url))
	return &Conn{ws: ws, log: d.log}, nil
}

func classifyDial(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("%w: dial: %w", client.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: upgrade refused with %s", client.ErrAuthRejected, resp.Status)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: upgrade refused with %s", client.ErrRateLimited, resp.Status)
	default:
		return fmt.Errorf("%w: upgrade refused with %s: %w", client.ErrTransport, resp.Status, err)
	}
}

// Conn adapts a *websocket.Conn to client.Conn. Frames are JSON text
// messages; anything that does not parse as a frame is skipped.
type Conn struct {
	ws        *websocket.Conn
	log       *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// ReadFrame blocks until a frame arrives, the context ends or the
// connection fails. The context's deadline becomes the read deadline.
func (c *Conn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.Frame{}, fmt.Errorf("%w: %w", client.ErrTransport, ctxErr)
			}
			if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
				return protocol.Frame{}, fmt.Errorf("%w: %w", client.ErrTransport, context.DeadlineExceeded)
			}
			return protocol.Frame{}, classifyRead(err)
		}
		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
			c.log.Debug("skipping malformed frame", zap.Int("bytes", len(raw)))
			continue
		}
		return f, nil
	}
}

// WriteFrame sends f as a JSON text message.
func (c *Conn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
	}
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: write: %w", client.ErrTransport, err)
	}
	return nil
}

// Close sends a normal close frame and releases the socket. It is safe to
// call more than once and concurrently with ReadFrame and WriteFrame.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func classifyRead(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return fmt.Errorf("%w: read: %w", client.ErrTransport, err)
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, protocol.CloseSessionRevoked:
		return fmt.Errorf("%w: close %d %s", client.ErrSessionClosed, ce.Code, ce.Text)
	case protocol.CloseAuthRejected:
		return fmt.Errorf("%w: close %d %s", client.ErrAuthRejected, ce.Code, ce.Text)
	case protocol.CloseRateLimited, websocket.CloseTryAgainLater:
		return fmt.Errorf("%w: close %d %s", client.ErrRateLimited, ce.Code, ce.Text)
	default:
		return fmt.Errorf("%w: close %d %s", client.ErrTransport, ce.Code, ce.Text)
	}
}
