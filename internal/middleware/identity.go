package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notifier/internal/handler"
	"github.com/jwalitptl/notifier/pkg/auth"
)

const (
	HeaderUserID       = "X-User-ID"
	ContextRecipientID = "recipient_id"
)

// Identity resolves the calling recipient. With a token service configured it
// requires a bearer token, falling back to the token query parameter for
// EventSource and WebSocket clients that cannot set headers. Without one it
// trusts the X-User-ID header or user_id query parameter.
func Identity(tokens auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			id  int64
			err error
		)
		if tokens != nil {
			id, err = tokenIdentity(c, tokens)
		} else {
			id, err = headerIdentity(c)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse(err.Error()))
			return
		}

		c.Set(ContextRecipientID, id)
		c.Next()
	}
}

type identityError string

func (e identityError) Error() string { return string(e) }

const (
	errMissingIdentity = identityError("missing recipient identity")
	errInvalidIdentity = identityError("invalid recipient identity")
	errInvalidToken    = identityError("invalid token")
)

func tokenIdentity(c *gin.Context, tokens auth.JWTService) (int64, error) {
	token := ""
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return 0, errInvalidToken
		}
		token = strings.TrimSpace(parts[1])
	} else {
		token = c.Query("token")
	}
	if token == "" {
		return 0, errMissingIdentity
	}

	id, err := tokens.ValidateToken(token)
	if err != nil {
		return 0, errInvalidToken
	}
	return id, nil
}

func headerIdentity(c *gin.Context) (int64, error) {
	raw := c.GetHeader(HeaderUserID)
	if raw == "" {
		raw = c.Query("user_id")
	}
	if raw == "" {
		return 0, errMissingIdentity
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidIdentity
	}
	return id, nil
}

// RecipientID returns the id set by Identity.
func RecipientID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextRecipientID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
