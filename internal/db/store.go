package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/ledger"
	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// Store is the Postgres implementation of the withdrawal, compliance and
// audit persistence ports.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// execer is satisfied by the pool and by a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Withdrawn counters only move forward, so a late or replayed upsert can
// never roll a founder back.
const upsertFounder = `
    INSERT INTO founders (id, name, email, role, allocation_total, allocation_personal,
        allocation_reinvestment, withdrawn_personal, withdrawn_reinvestment, bank_accounts,
        status, skip_bank_transfer, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
    ON CONFLICT (id) DO UPDATE SET
        withdrawn_personal = GREATEST(founders.withdrawn_personal, EXCLUDED.withdrawn_personal),
        withdrawn_reinvestment = GREATEST(founders.withdrawn_reinvestment, EXCLUDED.withdrawn_reinvestment),
        bank_accounts = EXCLUDED.bank_accounts,
        status = EXCLUDED.status,
        updated_at = NOW()`

func (s *Store) SaveFounder(ctx context.Context, f ledger.Founder) error {
	return saveFounder(ctx, s.pool, f)
}

func saveFounder(ctx context.Context, q execer, f ledger.Founder) error {
	accounts, err := json.Marshal(f.BankAccounts)
	if err != nil {
		return fmt.Errorf("encode bank accounts: %w", err)
	}
	_, err = q.Exec(ctx, upsertFounder,
		f.ID, f.Name, f.Email, f.Role,
		f.Allocation.Total, f.Allocation.Personal, f.Allocation.Reinvestment,
		f.Withdrawn.Personal, f.Withdrawn.Reinvestment,
		accounts, f.Status, f.SkipBankTransfer, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert founder %s: %w", f.ID, err)
	}
	return nil
}

func (s *Store) SaveUser(ctx context.Context, u ledger.UserAccount) error {
	return saveUser(ctx, s.pool, u)
}

func saveUser(ctx context.Context, q execer, u ledger.UserAccount) error {
	_, err := q.Exec(ctx, `
        INSERT INTO user_allocations (id, allocation, withdrawn, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET withdrawn = GREATEST(user_allocations.withdrawn, EXCLUDED.withdrawn)`,
		u.ID, u.Allocation, u.Withdrawn, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func saveTotals(ctx context.Context, q execer, t ledger.Totals) error {
	_, err := q.Exec(ctx, `
        INSERT INTO ledger_totals (id, total_supply, allocated_founders, allocated_users,
            registered_founders, registered_users, withdrawn_founders, withdrawn_users, circulating, updated_at)
        VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, NOW())
        ON CONFLICT (id) DO UPDATE SET
            registered_founders = EXCLUDED.registered_founders,
            registered_users = EXCLUDED.registered_users,
            withdrawn_founders = EXCLUDED.withdrawn_founders,
            withdrawn_users = EXCLUDED.withdrawn_users,
            circulating = EXCLUDED.circulating,
            updated_at = NOW()`,
		t.TotalSupply, t.Allocated.Founders, t.Allocated.Users,
		t.Registered.Founders, t.Registered.Users,
		t.Withdrawn.Founders, t.Withdrawn.Users, t.Circulating)
	if err != nil {
		return fmt.Errorf("save ledger totals: %w", err)
	}
	return nil
}

const insertWithdrawal = `
    INSERT INTO withdrawals (id, founder_id, amount, fiat_usd, fiat_zar, rate, bank_account_id,
        bank_transaction_id, blockchain_tx, status, warning, reference, created_at)
    VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12, $13)`

func insertWithdrawalRow(ctx context.Context, q execer, w withdrawal.Withdrawal) error {
	_, err := q.Exec(ctx, insertWithdrawal,
		w.ID, w.FounderID, w.Amount, w.FiatUSD.String(), w.FiatZAR.String(), w.Rate.String(),
		w.BankAccountID, w.BankTransactionID, w.BlockchainTx, w.Status, w.Warning, w.Reference, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// SaveCompletion writes the founder counters, the ledger totals and the
// withdrawal records in one transaction.
func (s *Store) SaveCompletion(ctx context.Context, c withdrawal.Completion) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := saveFounder(ctx, tx, c.Founder); err != nil {
			return err
		}
		if err := saveTotals(ctx, tx, c.Totals); err != nil {
			return err
		}
		if w := c.Withdrawal; w != nil {
			if err := insertWithdrawalRow(ctx, tx, *w); err != nil {
				return err
			}
		}
		if r := c.Reinvestment; r != nil {
			projects, err := json.Marshal(r.Projects)
			if err != nil {
				return fmt.Errorf("encode project allocations: %w", err)
			}
			_, err = tx.Exec(ctx, `
                INSERT INTO reinvestments (id, founder_id, amount, fiat_usd, fiat_zar, rate, projects,
                    blockchain_tx, status, warning, reference, created_at)
                VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)`,
				r.ID, r.FounderID, r.Amount, r.FiatUSD.String(), r.FiatZAR.String(), r.Rate.String(),
				projects, r.BlockchainTx, r.Status, r.Warning, r.Reference, r.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert reinvestment: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) SaveFailedWithdrawal(ctx context.Context, w withdrawal.Withdrawal) error {
	return insertWithdrawalRow(ctx, s.pool, w)
}

func (s *Store) SaveUserWithdrawal(ctx context.Context, w withdrawal.UserWithdrawal, u ledger.UserAccount, totals ledger.Totals) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		if err := saveTotals(ctx, tx, totals); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
            INSERT INTO user_withdrawals (id, user_id, amount, wallet_address, blockchain_tx, warning, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			w.ID, w.UserID, w.Amount, w.WalletAddress, w.BlockchainTx, w.Warning, w.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert user withdrawal: %w", err)
		}
		return nil
	})
}

// Withdrawals returns a founder's personal withdrawals, oldest first.
func (s *Store) Withdrawals(ctx context.Context, founderID string) ([]withdrawal.Withdrawal, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id::text, founder_id, amount, fiat_usd::text, fiat_zar::text, rate::text, bank_account_id,
               bank_transaction_id, blockchain_tx, status, warning, reference, created_at
        FROM withdrawals
        WHERE founder_id = $1
        ORDER BY created_at, id`, founderID)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []withdrawal.Withdrawal
	for rows.Next() {
		var w withdrawal.Withdrawal
		var usd, zar, rate string
		if err := rows.Scan(&w.ID, &w.FounderID, &w.Amount, &usd, &zar, &rate, &w.BankAccountID,
			&w.BankTransactionID, &w.BlockchainTx, &w.Status, &w.Warning, &w.Reference, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		if w.FiatUSD, w.FiatZAR, w.Rate, err = decimals(usd, zar, rate); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Reinvestments returns a founder's reinvestments, oldest first.
func (s *Store) Reinvestments(ctx context.Context, founderID string) ([]withdrawal.Reinvestment, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id::text, founder_id, amount, fiat_usd::text, fiat_zar::text, rate::text, projects,
               blockchain_tx, status, warning, reference, created_at
        FROM reinvestments
        WHERE founder_id = $1
        ORDER BY created_at, id`, founderID)
	if err != nil {
		return nil, fmt.Errorf("query reinvestments: %w", err)
	}
	defer rows.Close()

	var out []withdrawal.Reinvestment
	for rows.Next() {
		var r withdrawal.Reinvestment
		var usd, zar, rate string
		var projects []byte
		if err := rows.Scan(&r.ID, &r.FounderID, &r.Amount, &usd, &zar, &rate, &projects,
			&r.BlockchainTx, &r.Status, &r.Warning, &r.Reference, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reinvestment: %w", err)
		}
		if err := json.Unmarshal(projects, &r.Projects); err != nil {
			return nil, fmt.Errorf("decode project allocations: %w", err)
		}
		if r.FiatUSD, r.FiatZAR, r.Rate, err = decimals(usd, zar, rate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadFounders reads every founder for ledger.Restore.
func (s *Store) LoadFounders(ctx context.Context) ([]ledger.Founder, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, name, email, role, allocation_total, allocation_personal, allocation_reinvestment,
               withdrawn_personal, withdrawn_reinvestment, bank_accounts, status, skip_bank_transfer, created_at
        FROM founders
        ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query founders: %w", err)
	}
	defer rows.Close()

	var out []ledger.Founder
	for rows.Next() {
		var f ledger.Founder
		var accounts []byte
		if err := rows.Scan(&f.ID, &f.Name, &f.Email, &f.Role,
			&f.Allocation.Total, &f.Allocation.Personal, &f.Allocation.Reinvestment,
			&f.Withdrawn.Personal, &f.Withdrawn.Reinvestment,
			&accounts, &f.Status, &f.SkipBankTransfer, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan founder: %w", err)
		}
		if err := json.Unmarshal(accounts, &f.BankAccounts); err != nil {
			return nil, fmt.Errorf("decode bank accounts of %s: %w", f.ID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadUsers reads every user allocation for ledger.Restore.
func (s *Store) LoadUsers(ctx context.Context) ([]ledger.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, allocation, withdrawn, created_at FROM user_allocations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []ledger.UserAccount
	for rows.Next() {
		var u ledger.UserAccount
		if err := rows.Scan(&u.ID, &u.Allocation, &u.Withdrawn, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func decimals(usd, zar, rate string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	u, err := decimal.NewFromString(usd)
	if err != nil {
		return u, u, u, fmt.Errorf("parse fiat_usd %q: %w", usd, err)
	}
	z, err := decimal.NewFromString(zar)
	if err != nil {
		return u, z, z, fmt.Errorf("parse fiat_zar %q: %w", zar, err)
	}
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return u, z, r, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	return u, z, r, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
