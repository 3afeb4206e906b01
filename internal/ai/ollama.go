package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

var _ StreamProvider = (*OllamaProvider)(nil)

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

// one NDJSON line when streaming, the whole body otherwise
type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) request(messages []Message, stream bool) ollamaChatReq {
	out := make([]ollamaMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, ollamaMsg{Role: m.Role, Content: m.Content})
	}
	return ollamaChatReq{Model: p.Model, Messages: out, Stream: stream}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	resp, err := postJSON(ctx, p.Client, "ollama", p.BaseURL+"/api/chat", nil, p.request(messages, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat streams assistant content chunks from Ollama's NDJSON stream.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("ollama: http client is nil")
			return
		}

		resp, err := postJSON(ctx, streamingClient(p.Client), "ollama", p.BaseURL+"/api/chat", nil, p.request(messages, true))
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		err = scanLines(resp.Body, func(line []byte) (bool, error) {
			var decoded ollamaChatResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				return false, err
			}
			if decoded.Error != "" {
				return false, errors.New(decoded.Error)
			}
			if decoded.Message.Content != "" && !emit(ctx, chunks, decoded.Message.Content) {
				return false, ctx.Err()
			}
			return decoded.Done, nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
