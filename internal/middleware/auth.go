package middleware

import (
	"strings"

	"github.com/civictriage/backend/internal/utils"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextOfficerID   = "officer_id"
	ContextOfficerName = "officer_name"
	ContextRole        = "role"
)

// bearerToken reads "Authorization: Bearer <token>". When allowQuery is set
// a ?token= parameter is accepted too, since EventSource cannot send headers.
func bearerToken(c *gin.Context, allowQuery bool) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if allowQuery {
			if token := c.Query("token"); token != "" {
				return token, true
			}
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func authenticate(tokens *utils.TokenManager, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c, allowQuery)
		if !ok {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		claims, err := tokens.ParseToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextOfficerID, claims.OfficerID)
		c.Set(ContextOfficerName, claims.Name)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// AuthRequired rejects requests without a valid officer bearer token.
func AuthRequired(tokens *utils.TokenManager) gin.HandlerFunc {
	return authenticate(tokens, false)
}

// StreamAuthRequired is AuthRequired for SSE endpoints.
func StreamAuthRequired(tokens *utils.TokenManager) gin.HandlerFunc {
	return authenticate(tokens, true)
}

// GetOfficerID gets the authenticated officer id from context
func GetOfficerID(c *gin.Context) string {
	return c.GetString(ContextOfficerID)
}

func GetOfficerName(c *gin.Context) string {
	return c.GetString(ContextOfficerName)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}
