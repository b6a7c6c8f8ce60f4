package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	TenantKey    = "tenant"
	PrincipalKey = "principal"

	CodeUnauthorized = "Unauthorized"
)

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Code: CodeUnauthorized, Message: message})
}

// BearerAuth accepts requests carrying a token from one of the trusted issuers and
// stores the caller's tenant on the context.
func BearerAuth(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			unauthorized(c, "Missing or invalid authorization header.")
			return
		}
		if validator == nil {
			unauthorized(c, "Authentication is not configured.")
			return
		}

		principal, err := validator.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			slog.Debug("Rejected bearer token", "error", err, "path", c.Request.URL.Path, "client_ip", c.ClientIP())
			unauthorized(c, "Invalid or expired token.")
			return
		}

		c.Set(PrincipalKey, principal)
		c.Set(TenantKey, principal.Tenant)
		c.Next()
	}
}

// Tenant returns the authenticated tenant of the request.
func Tenant(c *gin.Context) string {
	return c.GetString(TenantKey)
}

func Principal(c *gin.Context) *auth.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}
