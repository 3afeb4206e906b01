package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ChatService is the subset of chat.Service the handlers use.
type ChatService interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

type Handler struct {
	ChatSvc  ChatService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(svc ChatService, l *zerolog.Logger) *Handler {
	lg := log.Logger
	if l != nil {
		lg = *l
	}
	return &Handler{
		ChatSvc: svc,
		log:     lg.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}
