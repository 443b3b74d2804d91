// Package auth guards the reporting endpoints with the shared admin secret.
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const secretQueryParam = "secret"

// AdminSecret rejects requests whose ?secret= is absent or not exactly secret.
func AdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given, ok := c.GetQuery(secretQueryParam)
		if !ok || given != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
