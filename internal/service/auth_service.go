package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/config"
)

// TokenType distinguishes student, staff and admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeStaff   TokenType = "staff"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims carries the identity supplied by the identity provider. The engine
// only reads AccountID and LoginHandle.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	AccountID   string    `json:"account_id"`
	LoginHandle string    `json:"login_handle,omitempty"`
}

// Student returns the student identity carried by the claims.
func (c *Claims) Student() Student {
	return Student{AccountID: c.AccountID, LoginHandle: c.LoginHandle}
}

// Staff returns the staff identity carried by the claims.
func (c *Claims) Staff() Staff {
	return Staff{AccountID: c.AccountID, Admin: c.TokenType == TokenTypeAdmin}
}

// AuthService validates identity tokens.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// IssueToken signs a token for an identity. It backs the development
// token helper; production tokens come from the identity provider.
func (s *AuthService) IssueToken(tokenType TokenType, accountID, loginHandle string) (string, error) {
	if accountID == "" {
		return "", errors.New("account id is required")
	}
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:   tokenType,
		AccountID:   accountID,
		LoginHandle: loginHandle,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.AccountID == "" {
		claims.AccountID = claims.Subject
	}
	if claims.AccountID == "" {
		return nil, errors.New("token carries no account id")
	}

	return claims, nil
}
