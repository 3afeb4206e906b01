package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsServer(t *testing.T, script func(ws *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		script(ws, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sendToken(t *testing.T, ws *websocket.Conn, token string) {
	b, err := EncodeToken(token)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func closeWith(ws *websocket.Conn, code int) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
}

func TestWebSocket_DeliversTokensInOrder(t *testing.T) {
	var gotPath, gotPrompt string
	srv := wsServer(t, func(ws *websocket.Conn, r *http.Request) {
		gotPath = r.URL.Path
		gotPrompt = r.URL.Query().Get("prompt")
		for _, tok := range []string{"Hel", "lo", " there"} {
			sendToken(t, ws, tok)
		}
		closeWith(ws, websocket.CloseNormalClosure)
	})

	d, err := NewWebSocketDialer(srv.URL)
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "hi there", rec)
	waitDone(t, conn)

	opened, tokens, errs, closes := rec.snapshot()
	assert.Equal(t, 1, opened)
	assert.Equal(t, []string{"Hel", "lo", " there"}, tokens)
	assert.Empty(t, errs)
	assert.Equal(t, []int{CloseNormal}, closes)
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, "/chat/ws", gotPath)
	assert.Equal(t, "hi there", gotPrompt)
}

func TestWebSocket_DropsMalformedFrames(t *testing.T) {
	srv := wsServer(t, func(ws *websocket.Conn, r *http.Request) {
		sendToken(t, ws, "a")
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"bad":"data"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		sendToken(t, ws, "b")
		closeWith(ws, websocket.CloseNormalClosure)
	})

	d, err := NewWebSocketDialer(srv.URL)
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "x", rec)
	waitDone(t, conn)

	_, tokens, errs, closes := rec.snapshot()
	assert.Equal(t, []string{"a", "b"}, tokens)
	assert.Empty(t, errs)
	assert.Equal(t, []int{CloseNormal}, closes)
}

func TestWebSocket_ReportsServerCloseCode(t *testing.T) {
	srv := wsServer(t, func(ws *websocket.Conn, r *http.Request) {
		sendToken(t, ws, "[stream error]")
		closeWith(ws, websocket.CloseInternalServerErr)
	})

	d, err := NewWebSocketDialer(srv.URL)
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "x", rec)
	waitDone(t, conn)

	_, tokens, _, closes := rec.snapshot()
	assert.Equal(t, []string{"[stream error]"}, tokens)
	assert.Equal(t, []int{CloseInternalError}, closes)
}

func TestWebSocket_CloseIsIdempotent(t *testing.T) {
	srv := wsServer(t, func(ws *websocket.Conn, r *http.Request) {
		sendToken(t, ws, "first")
		// block until the client goes away
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	d, err := NewWebSocketDialer(srv.URL)
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "x", rec)
	assert.Equal(t, "first", waitToken(t, rec))
	assert.Equal(t, StateOpen, conn.State())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Close()
		}()
	}
	wg.Wait()
	waitDone(t, conn)
	conn.Close()

	_, _, errs, closes := rec.snapshot()
	assert.Empty(t, errs)
	assert.Equal(t, []int{CloseNormal}, closes)
}

func TestWebSocket_CloseWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	d, err := NewWebSocketDialer(srv.URL, WithHandshakeTimeout(500*time.Millisecond))
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "x", rec)
	assert.Equal(t, StateConnecting, conn.State())
	conn.Close()
	conn.Close()
	waitDone(t, conn)

	opened, _, errs, closes := rec.snapshot()
	assert.Equal(t, 0, opened)
	assert.Empty(t, errs)
	assert.Equal(t, []int{CloseNormal}, closes)
}

func TestWebSocket_ContextCancelClosesConnection(t *testing.T) {
	srv := wsServer(t, func(ws *websocket.Conn, r *http.Request) {
		sendToken(t, ws, "first")
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	d, err := NewWebSocketDialer(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	conn := d.Open(ctx, "x", rec)
	waitToken(t, rec)
	cancel()
	waitDone(t, conn)

	_, _, _, closes := rec.snapshot()
	assert.Equal(t, []int{CloseNormal}, closes)
}

func TestWebSocket_DialFailureEmitsErrorThenClose(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	d, err := NewWebSocketDialer(base)
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "x", rec)
	waitDone(t, conn)

	opened, _, errs, closes := rec.snapshot()
	assert.Equal(t, 0, opened)
	assert.Len(t, errs, 1)
	assert.Equal(t, []int{CloseAbnormal}, closes)
}

func TestWebSocket_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	d, err := NewWebSocketDialer(srv.URL)
	require.NoError(t, err)

	rec := newRecorder()
	conn := d.Open(context.Background(), "x", rec)
	waitDone(t, conn)

	_, _, errs, closes := rec.snapshot()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "status 403")
	assert.Equal(t, []int{CloseAbnormal}, closes)
}
