package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
)

// RequireTokenType checks the authenticated token is one of the given types.
func RequireTokenType(code response.ErrCode, types ...service.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !slices.Contains(types, claims.TokenType) {
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}
		c.Next()
	}
}

// StudentOnly admits student tokens.
func StudentOnly() gin.HandlerFunc {
	return RequireTokenType(response.ErrStudentAccessOnly, service.TokenTypeStudent)
}

// StaffOnly admits staff and admin tokens.
func StaffOnly() gin.HandlerFunc {
	return RequireTokenType(response.ErrStaffAccessOnly, service.TokenTypeStaff, service.TokenTypeAdmin)
}

// AdminOnly admits admin tokens.
func AdminOnly() gin.HandlerFunc {
	return RequireTokenType(response.ErrAdminAccessOnly, service.TokenTypeAdmin)
}
