package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/streamchat/internal/common"
	"github.com/suPer8Hu/streamchat/internal/stream"
)

const (
	streamErrorToken = "[stream error]"
	pingInterval     = 15 * time.Second
	closeGrace       = time.Second
)

type chatReq struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		common.Fail(c, http.StatusBadRequest, "prompt is required")
		return
	}

	reply, err := h.ChatSvc.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.log.Error().Err(err).Msg("generate failed")
		common.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// ChatWS streams {"token": ...} text frames for the prompt query parameter,
// then closes with 1000. A missing prompt closes with 1003; a failed stream
// sends a final error token and closes with 1011.
func (h *Handler) ChatWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader already replied
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	prompt := c.Query("prompt")
	if prompt == "" {
		closeWith(conn, websocket.CloseUnsupportedData, "prompt is required")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Inbound frames are ignored; a read error means the client went away.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tokens, errs := h.ChatSvc.Stream(ctx, prompt)
	sent := 0
	for tok := range tokens {
		if err := writeToken(conn, tok); err != nil {
			h.log.Debug().Err(err).Int("sent", sent).Msg("client gone during stream")
			cancel()
			return
		}
		sent++
	}

	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			h.log.Debug().Int("sent", sent).Msg("client disconnected")
			return
		}
		// chat.Service degrades provider failures to demo tokens, so only
		// other ChatService implementations reach this branch
		h.log.Error().Err(err).Int("sent", sent).Msg("stream failed")
		_ = writeToken(conn, streamErrorToken)
		closeWith(conn, websocket.CloseInternalServerErr, "stream error")
	} else {
		closeWith(conn, websocket.CloseNormalClosure, "")
	}

	// wait for the client's close reply before dropping the socket
	select {
	case <-readerDone:
	case <-time.After(closeGrace):
	}
}

func writeToken(conn *websocket.Conn, tok string) error {
	b, err := stream.EncodeToken(tok)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
}

// ChatSSE streams the reply as server-sent events: "token" events carrying
// {"token": ...}, then "done" with {"code": 1000} or "error" with
// {"message": ...}. Pings keep idle proxies from dropping the connection.
func (h *Handler) ChatSSE(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		common.Fail(c, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, "streaming not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}
	flusher.Flush()

	ctx := c.Request.Context()
	tokens, errs := h.ChatSvc.Stream(ctx, prompt)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	sent := 0
	for tokens != nil {
		select {
		case tok, ok := <-tokens:
			if !ok {
				tokens = nil
				continue
			}
			writeJSON("token", stream.Envelope{Token: tok})
			sent++
		case <-ticker.C:
			writeJSON("ping", gin.H{"ts": time.Now().Unix()})
		case <-ctx.Done():
			h.log.Debug().Int("sent", sent).Msg("client disconnected")
			return
		}
	}

	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return
		}
		h.log.Error().Err(err).Int("sent", sent).Msg("stream failed")
		writeJSON("error", gin.H{"message": err.Error()})
		return
	}
	writeJSON("done", gin.H{"code": websocket.CloseNormalClosure})
}
