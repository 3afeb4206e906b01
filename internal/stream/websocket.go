package stream

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const closeWriteWait = time.Second

// WebSocketDialer streams tokens from the server's /chat/ws endpoint. The
// prompt travels in the query string; nothing is written after the handshake.
type WebSocketDialer struct {
	endpoint url.URL
	dialer   *websocket.Dialer
	log      zerolog.Logger
}

var _ Dialer = (*WebSocketDialer)(nil)

func NewWebSocketDialer(baseURL string, opts ...Option) (*WebSocketDialer, error) {
	u, err := Endpoint(baseURL, "/chat/ws", true)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &WebSocketDialer{
		endpoint: *u,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: o.handshakeTimeout,
		},
		log: o.logger.With().Str("transport", "websocket").Logger(),
	}, nil
}

func (d *WebSocketDialer) Open(ctx context.Context, prompt string, h Handler) Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		url:    withPrompt(d.endpoint, prompt),
		dialer: d.dialer,
		cancel: cancel,
		log:    d.log,
	}
	c.init(h)
	d.log.Debug().Str("url", c.url).Msg("opening websocket")
	go c.run(ctx)
	return c
}

type wsConn struct {
	lifecycle

	url    string
	dialer *websocket.Dialer
	cancel context.CancelFunc
	log    zerolog.Logger

	mu sync.Mutex
	ws *websocket.Conn
}

// Close only cancels; the close frame is written from the AfterFunc
// goroutine registered in run, so callers never wait on the peer.
func (c *wsConn) Close() {
	if !c.requestClose() {
		return
	}
	c.cancel()
}

// shutdown runs once ctx is done, whether from Close or the parent context.
func (c *wsConn) shutdown() {
	c.requestClose()

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		// still dialing; run observes the cancelled context
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	_ = ws.Close()
}

func (c *wsConn) run(ctx context.Context) {
	code := CloseAbnormal
	defer func() { c.finish(code) }()
	defer c.cancel()

	stop := context.AfterFunc(ctx, c.shutdown)
	defer stop()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		// the dial can observe ctx before shutdown has run
		if c.closeRequested() || ctx.Err() != nil {
			code = CloseNormal
			return
		}
		if resp != nil {
			err = errors.Wrapf(err, "websocket handshake failed with status %d", resp.StatusCode)
		} else {
			err = errors.Wrap(err, "websocket dial failed")
		}
		c.log.Error().Err(err).Msg("open failed")
		c.h.OnError(err)
		return
	}

	c.mu.Lock()
	if c.closeRequested() {
		c.mu.Unlock()
		_ = ws.Close()
		code = CloseNormal
		return
	}
	c.ws = ws
	c.mu.Unlock()
	defer ws.Close()

	c.log.Debug().Msg("websocket open")
	c.markOpen()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			code = c.readFailure(err)
			return
		}
		if c.closeRequested() {
			continue
		}
		if mt != websocket.TextMessage {
			c.log.Warn().Int("message_type", mt).Msg("dropping non-text frame")
			continue
		}
		token, err := DecodeToken(data)
		if err != nil {
			c.log.Warn().Err(err).Int("len", len(data)).Msg("dropping frame")
			continue
		}
		c.h.OnToken(token)
	}
}

func (c *wsConn) readFailure(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.log.Debug().Int("code", ce.Code).Str("reason", ce.Text).Msg("websocket closed by peer")
		return ce.Code
	}
	if c.closeRequested() {
		return CloseNormal
	}
	err = errors.Wrap(err, "websocket read failed")
	c.log.Error().Err(err).Msg("transport error")
	c.h.OnError(err)
	return CloseAbnormal
}
