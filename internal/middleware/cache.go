package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheConfig describes the Cache-Control policy for a route group.
type CacheConfig struct {
	MaxAge  int
	Private bool
	NoStore bool
	Vary    []string
}

// ReferenceCacheConfig suits data that only changes on deploy, such as the
// notification type list.
func ReferenceCacheConfig() CacheConfig {
	return CacheConfig{MaxAge: 3600}
}

// PerRecipientCacheConfig keeps recipient views out of shared caches.
func PerRecipientCacheConfig() CacheConfig {
	return CacheConfig{
		Private: true,
		NoStore: true,
		Vary:    []string{"Authorization", HeaderUserID},
	}
}

func (c CacheConfig) header() string {
	if c.NoStore {
		if c.Private {
			return "private, no-store"
		}
		return "no-store"
	}
	directives := []string{"public"}
	if c.Private {
		directives[0] = "private"
	}
	if c.MaxAge > 0 {
		directives = append(directives, "max-age="+strconv.Itoa(c.MaxAge))
	}
	return strings.Join(directives, ", ")
}

// Cache sets Cache-Control on GET responses. Other methods get no-store.
func Cache(config CacheConfig) gin.HandlerFunc {
	value := config.header()
	vary := strings.Join(config.Vary, ", ")

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if c.Request.Method != "GET" {
			h.Set("Cache-Control", "no-store")
			c.Next()
			return
		}
		if h.Get("Cache-Control") == "" {
			h.Set("Cache-Control", value)
		}
		if vary != "" {
			h.Set("Vary", vary)
		}
		c.Next()
	}
}
