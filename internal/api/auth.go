package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey    = "user_id"
	userIDHeader = "X-User-ID"
)

// identityMiddleware resolves the calling user from an HS256 bearer token, or
// from the proxy-set header when no secret is configured
func identityMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID string
		if len(secret) == 0 {
			userID = strings.TrimSpace(c.GetHeader(userIDHeader))
		} else {
			userID = subjectFromToken(c.GetHeader("Authorization"), secret)
		}

		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"details": "missing or invalid credentials",
			})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func subjectFromToken(header string, secret []byte) string {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return ""
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return ""
	}
	return claims.Subject
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
