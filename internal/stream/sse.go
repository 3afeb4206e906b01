package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SSEDialer streams tokens from the server's /chat/stream endpoint as
// server-sent events. It honours the same Handler contract as the websocket
// transport.
type SSEDialer struct {
	endpoint url.URL
	client   *http.Client
	log      zerolog.Logger
}

var _ Dialer = (*SSEDialer)(nil)

func NewSSEDialer(baseURL string, opts ...Option) (*SSEDialer, error) {
	u, err := Endpoint(baseURL, "/chat/stream", false)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &SSEDialer{
		endpoint: *u,
		client:   o.httpClient,
		log:      o.logger.With().Str("transport", "sse").Logger(),
	}, nil
}

func (d *SSEDialer) Open(ctx context.Context, prompt string, h Handler) Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &sseConn{
		url:    withPrompt(d.endpoint, prompt),
		client: d.client,
		cancel: cancel,
		log:    d.log,
	}
	c.init(h)
	d.log.Debug().Str("url", c.url).Msg("opening event stream")
	go c.run(ctx)
	return c
}

type sseConn struct {
	lifecycle

	url    string
	client *http.Client
	cancel context.CancelFunc
	log    zerolog.Logger
}

func (c *sseConn) Close() {
	if !c.requestClose() {
		return
	}
	c.cancel()
}

func (c *sseConn) run(ctx context.Context) {
	code := CloseAbnormal
	defer func() { c.finish(code) }()
	defer c.cancel()

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.fail(errors.Wrap(err, "build request"))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		if c.localClose(ctx) {
			code = CloseNormal
			return
		}
		c.fail(errors.Wrap(err, "event stream request failed"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.fail(errors.Errorf("event stream: status %d: %s", resp.StatusCode, msg))
		if resp.StatusCode == http.StatusBadRequest {
			code = CloseUnsupportedData
		}
		return
	}

	c.markOpen()

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if done, endCode := c.dispatch(event, strings.Join(data, "\n")); done {
					code = endCode
					return
				}
			}
			event, data = "", data[:0]
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if c.localClose(ctx) {
		code = CloseNormal
		return
	}
	if err := sc.Err(); err != nil {
		c.fail(errors.Wrap(err, "event stream read failed"))
		return
	}
	c.log.Warn().Msg("event stream ended without done event")
	code = CloseNoStatus
}

// dispatch handles one complete event. done reports a terminal event.
func (c *sseConn) dispatch(event, data string) (done bool, code int) {
	if c.closeRequested() {
		return false, 0
	}
	switch event {
	case "", "token", "message":
		token, err := DecodeToken([]byte(data))
		if err != nil {
			c.log.Warn().Err(err).Int("len", len(data)).Msg("dropping event")
			return false, 0
		}
		c.h.OnToken(token)
		return false, 0
	case "done":
		var payload struct {
			Code int `json:"code"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Code == 0 {
			payload.Code = CloseNormal
		}
		return true, payload.Code
	case "error":
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Message == "" {
			payload.Message = data
		}
		c.fail(errors.New(payload.Message))
		return true, CloseInternalError
	case "ping":
		return false, 0
	default:
		c.log.Debug().Str("event", event).Msg("ignoring event")
		return false, 0
	}
}

// localClose reports whether the stream ended because Close was called or
// ctx was cancelled. The body read can fail before the AfterFunc runs.
func (c *sseConn) localClose(ctx context.Context) bool {
	return c.closeRequested() || ctx.Err() != nil
}

func (c *sseConn) fail(err error) {
	c.log.Error().Err(err).Msg("transport error")
	c.h.OnError(err)
}
