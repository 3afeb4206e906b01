package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/chat"
	"github.com/suPer8Hu/streamchat/internal/httpapi"
)

type echoProvider struct{}

func (echoProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	return "echo: " + messages[len(messages)-1].Content, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := chat.NewService(echoProvider{}, chat.WithDelays(0, 0), chat.WithLogger(zerolog.Nop()))
	srv := httptest.NewServer(httpapi.NewRouter(svc, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_StreamsReplyBeforeExit(t *testing.T) {
	srv := newServer(t)

	for _, transport := range []string{"ws", "sse"} {
		t.Run(transport, func(t *testing.T) {
			var out bytes.Buffer
			opts := options{apiBase: srv.URL, transport: transport}
			err := run(context.Background(), opts, strings.NewReader("hello\n"), &out, zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, "assistant> echo: hello\n", out.String())
		})
	}
}

func TestRun_NoStream(t *testing.T) {
	srv := newServer(t)

	var out bytes.Buffer
	opts := options{apiBase: srv.URL, noStream: true}
	err := run(context.Background(), opts, strings.NewReader("\nhi\n"), &out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "you> assistant> echo: hi\nyou> ", out.String())
}

func TestRun_UnknownTransport(t *testing.T) {
	opts := options{apiBase: "http://localhost:1", transport: "carrier-pigeon"}
	err := run(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown transport")
}
