// Package fallback is the non-streaming POST /chat client.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	unknownErrorDetail = "Unknown error"
	genericErrorDetail = "Chat API error"
)

// APIError is a non-2xx reply from /chat. Its message is the server's detail
// verbatim.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string { return e.Detail }

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "fallback").Logger()
	return c
}

type chatReq struct {
	Prompt string `json:"prompt"`
}

type chatResp struct {
	Response string `json:"response"`
}

// Chat sends prompt and waits for the complete reply.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	b, err := json.Marshal(chatReq{Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Int("prompt_len", len(prompt)).Msg("sending chat request")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("chat request failed")
		return "", errors.Wrap(err, "chat request")
	}
	defer resp.Body.Close()

	c.log.Debug().Int("status", resp.StatusCode).Msg("chat response")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.Body)}
		c.log.Error().Int("status", resp.StatusCode).Str("detail", apiErr.Detail).Msg("chat api error")
		return "", apiErr
	}

	var decoded chatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(err, "decode chat response")
	}
	return decoded.Response, nil
}

// errorDetail reads {"detail": string} from an error body.
func errorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return unknownErrorDetail
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return unknownErrorDetail
	}
	if detail, ok := payload["detail"].(string); ok && detail != "" {
		return detail
	}
	return genericErrorDetail
}
