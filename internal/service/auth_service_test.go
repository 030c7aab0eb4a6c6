package service

import (
	"testing"
	"time"

	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})

	token, err := svc.IssueToken(TokenTypeStudent, "acct-1", "2024001@yourdomain.local")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, Student{AccountID: "acct-1", LoginHandle: "2024001@yourdomain.local"}, claims.Student())
	assert.Equal(t, "acct-1", claims.Subject)
}

func TestStaffClaims(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})

	token, err := svc.IssueToken(TokenTypeAdmin, "root", "")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, Staff{AccountID: "root", Admin: true}, claims.Staff())
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthService(&config.Config{JWTSecret: "one", JWTExpiry: time.Hour})
	verifier := NewAuthService(&config.Config{JWTSecret: "two", JWTExpiry: time.Hour})

	token, err := issuer.IssueToken(TokenTypeStaff, "staff-1", "")
	require.NoError(t, err)
	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)

	_, err = issuer.IssueToken(TokenTypeStaff, "", "")
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: -time.Minute})
	token, err := svc.IssueToken(TokenTypeStudent, "acct-1", "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
