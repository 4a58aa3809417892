package db

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Params are the pieces of the Postgres DSN.
type Params struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

// DSN builds a postgres:// connection string.
func (p Params) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, p.Name)
	if p.SSLMode != "" {
		dsn += "?sslmode=" + p.SSLMode
	}
	return dsn
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// schema is applied in order on startup. Every statement is idempotent.
var schema = []struct {
	name string
	sql  string
}{
	{"founders", `
        CREATE TABLE IF NOT EXISTS founders (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT '',
            allocation_total BIGINT NOT NULL CHECK (allocation_total > 0),
            allocation_personal BIGINT NOT NULL,
            allocation_reinvestment BIGINT NOT NULL,
            withdrawn_personal BIGINT NOT NULL DEFAULT 0 CHECK (withdrawn_personal <= allocation_personal),
            withdrawn_reinvestment BIGINT NOT NULL DEFAULT 0 CHECK (withdrawn_reinvestment <= allocation_reinvestment),
            bank_accounts JSONB NOT NULL DEFAULT '[]',
            status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','suspended')),
            skip_bank_transfer BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
	{"user_allocations", `
        CREATE TABLE IF NOT EXISTS user_allocations (
            id TEXT PRIMARY KEY,
            allocation BIGINT NOT NULL CHECK (allocation > 0),
            withdrawn BIGINT NOT NULL DEFAULT 0 CHECK (withdrawn <= allocation),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
	{"withdrawals", `
        CREATE TABLE IF NOT EXISTS withdrawals (
            id UUID PRIMARY KEY,
            founder_id TEXT NOT NULL REFERENCES founders(id),
            amount BIGINT NOT NULL CHECK (amount > 0),
            fiat_usd NUMERIC(20,2) NOT NULL,
            fiat_zar NUMERIC(20,2) NOT NULL,
            rate NUMERIC(20,8) NOT NULL,
            bank_account_id TEXT NOT NULL DEFAULT '',
            bank_transaction_id TEXT NOT NULL DEFAULT '',
            blockchain_tx TEXT NULL,
            status TEXT NOT NULL CHECK (status IN ('completed','failed')),
            warning TEXT NOT NULL DEFAULT '',
            reference TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_withdrawals_founder_created ON withdrawals(founder_id, created_at);`},
	{"reinvestments", `
        CREATE TABLE IF NOT EXISTS reinvestments (
            id UUID PRIMARY KEY,
            founder_id TEXT NOT NULL REFERENCES founders(id),
            amount BIGINT NOT NULL CHECK (amount > 0),
            fiat_usd NUMERIC(20,2) NOT NULL,
            fiat_zar NUMERIC(20,2) NOT NULL,
            rate NUMERIC(20,8) NOT NULL,
            projects JSONB NOT NULL,
            blockchain_tx TEXT NULL,
            status TEXT NOT NULL,
            warning TEXT NOT NULL DEFAULT '',
            reference TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_reinvestments_founder_created ON reinvestments(founder_id, created_at);`},
	{"user_withdrawals", `
        CREATE TABLE IF NOT EXISTS user_withdrawals (
            id UUID PRIMARY KEY,
            user_id TEXT NOT NULL REFERENCES user_allocations(id),
            amount BIGINT NOT NULL CHECK (amount > 0),
            wallet_address TEXT NOT NULL,
            blockchain_tx TEXT NULL,
            warning TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL
        )`},
	{"compliance_records", `
        CREATE TABLE IF NOT EXISTS compliance_records (
            founder_id TEXT PRIMARY KEY REFERENCES founders(id),
            last_attestation TIMESTAMPTZ NULL,
            constitution_version TEXT NOT NULL DEFAULT '',
            fica_compliant BOOLEAN NOT NULL DEFAULT FALSE,
            fica_status TEXT NOT NULL DEFAULT '',
            fica_reference TEXT NOT NULL DEFAULT '',
            withdrawal_violations JSONB NOT NULL DEFAULT '[]',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`},
	// payload is TEXT so the exact bytes that were hashed survive a round trip
	{"audit_log", `
        CREATE TABLE IF NOT EXISTS audit_log (
            seq BIGINT PRIMARY KEY,
            id UUID NOT NULL,
            action TEXT NOT NULL,
            founder_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            ts TIMESTAMPTZ NOT NULL,
            prev_hash CHAR(64) NOT NULL,
            hash CHAR(64) NOT NULL UNIQUE
        );
        CREATE INDEX IF NOT EXISTS idx_audit_log_founder ON audit_log(founder_id, seq);`},
	{"ledger_totals", `
        CREATE TABLE IF NOT EXISTS ledger_totals (
            id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
            total_supply BIGINT NOT NULL,
            allocated_founders BIGINT NOT NULL,
            allocated_users BIGINT NOT NULL,
            registered_founders BIGINT NOT NULL,
            registered_users BIGINT NOT NULL,
            withdrawn_founders BIGINT NOT NULL,
            withdrawn_users BIGINT NOT NULL,
            circulating BIGINT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
}

// EnsureSchema creates the tables the store needs if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for _, s := range schema {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("failed to create %s table: %w", s.name, err)
		}
		logger.Debug("table ensured", zap.String("table", s.name))
	}
	return nil
}
