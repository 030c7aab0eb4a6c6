package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/logger"
	"github.com/stemsi/exam-portal/internal/service"
)

// issue-token mints a signed identity token for local testing:
//
//	issue-token -type student -account acct-7f3a -handle 2024001@school.test
func main() {
	var (
		tokenType string
		account   string
		handle    string
	)
	flag.StringVar(&tokenType, "type", string(service.TokenTypeStudent), "Token type: student, staff or admin")
	flag.StringVar(&account, "account", "", "Stable account id")
	flag.StringVar(&handle, "handle", "", "Login handle (students only)")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	tt := service.TokenType(tokenType)
	switch tt {
	case service.TokenTypeStudent, service.TokenTypeStaff, service.TokenTypeAdmin:
	default:
		log.Fatal().Str("type", tokenType).Msg("Unknown token type")
	}
	if account == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := service.NewAuthService(cfg).IssueToken(tt, account, handle)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	log.Info().
		Str("type", tokenType).
		Str("account", account).
		Dur("expires_in", cfg.JWTExpiry).
		Msg("Token issued")
	fmt.Println(token)
}
