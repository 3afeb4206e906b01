package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/streamchat/internal/common"
)

func Recovery(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str(RequestIDKey, c.GetString(RequestIDKey)).
					Msg("recovered from panic")
				if !c.Writer.Written() {
					common.Fail(c, http.StatusInternalServerError, "internal server error")
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
