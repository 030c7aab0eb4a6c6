package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// Authenticate validates the identity token and stores its claims. The token
// is read from the Authorization header, or from ?token= for WebSocket and
// EventSource clients that cannot send headers.
func Authenticate(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// MustStudent returns the authenticated student. Routes using it sit behind
// StudentOnly.
func MustStudent(c *gin.Context) service.Student {
	claims := GetClaims(c)
	if claims == nil {
		panic(fmt.Sprintf("middleware: no claims on %s", c.FullPath()))
	}
	return claims.Student()
}

// MustStaff returns the authenticated staff member. Routes using it sit
// behind StaffOnly.
func MustStaff(c *gin.Context) service.Staff {
	claims := GetClaims(c)
	if claims == nil {
		panic(fmt.Sprintf("middleware: no claims on %s", c.FullPath()))
	}
	return claims.Staff()
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}
