package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/common"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID keeps an inbound X-Request-ID or mints a ULID, and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			id, err := common.NewULID()
			if err == nil {
				rid = id
			}
		}
		if rid != "" {
			c.Set(RequestIDKey, rid)
			c.Header(RequestIDHeader, rid)
		}
		c.Next()
	}
}
