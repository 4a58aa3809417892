package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sudo-init-do/founderledger/internal/config"
	mware "github.com/sudo-init-do/founderledger/internal/middleware"
)

// issue_token prints a signed API token.
// Usage:
//
//	go run ./cmd/adminutil/issue_token -user ops@azora.world -role admin
//	go run ./cmd/adminutil/issue_token -user sizwe -role founder -founder 1
func main() {
	userID := flag.String("user", "", "user id to put in the token")
	role := flag.String("role", mware.RoleFounder, "admin, founder or user")
	founderID := flag.String("founder", "", "founder id the token may act for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/issue_token -user <id> -role <role> [-founder <id>]")
	}
	switch *role {
	case mware.RoleAdmin, mware.RoleUser:
	case mware.RoleFounder:
		if *founderID == "" {
			log.Fatalf("-founder is required for founder tokens")
		}
	default:
		log.Fatalf("unknown role %q", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is not set")
	}

	token, err := mware.IssueToken([]byte(cfg.JWTSecret), mware.Claims{
		UserID:    *userID,
		Role:      *role,
		FounderID: *founderID,
	}, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
