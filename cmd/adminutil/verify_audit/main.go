package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/config"
	"github.com/sudo-init-do/founderledger/internal/db"
	"github.com/sudo-init-do/founderledger/internal/logging"
)

// verify_audit recomputes the hash chain of the persisted audit log.
// Usage:
//
//	go run ./cmd/adminutil/verify_audit [-founder 1]
func main() {
	founderID := flag.String("founder", "", "only print entries for this founder")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	dsn := cfg.DSN()
	if dsn == "" {
		log.Fatalf("DATABASE_URL or DB_HOST must be set")
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn, logger)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	entries, err := db.NewStore(pool, logger).LoadAudit(ctx)
	if err != nil {
		log.Fatalf("failed to load audit log: %v", err)
	}
	if err := audit.VerifyChain(entries); err != nil {
		log.Fatalf("audit chain broken: %v", err)
	}
	for _, e := range entries {
		if *founderID != "" && e.FounderID != *founderID {
			continue
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.Action, e.Hash)
	}
	fmt.Printf("%d entries, chain intact\n", len(entries))
}
