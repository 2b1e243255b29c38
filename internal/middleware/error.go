package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notifier/internal/handler"
	"github.com/jwalitptl/notifier/pkg/errors"
)

// ErrorHandler renders the last error attached with c.Error as the standard
// envelope. Responses already written by a handler or by Validation are left
// alone.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}

		appErr, ok := errors.As(c.Errors.Last().Err)
		if !ok {
			appErr = errors.NewInternal(c.Errors.Last().Err)
		}

		status := appErr.StatusCode()
		message := appErr.Error()
		if status >= http.StatusInternalServerError {
			// Causes stay in the log.
			message = errors.InternalMessage
		}
		c.AbortWithStatusJSON(status, handler.NewErrorResponse(message))
	}
}
