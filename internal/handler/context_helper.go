package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tale-download-api/internal/middleware"
)

// actorID returns the authenticated user id, or "" for anonymous requests.
func actorID(c *gin.Context) string {
	if claims := middleware.Claims(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// queryList reads a repeated or comma-separated query parameter.
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
