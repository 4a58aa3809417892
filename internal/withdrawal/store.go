package withdrawal

import (
	"context"
	"sync"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// Store persists founders and withdrawal records.
type Store interface {
	SaveFounder(ctx context.Context, f ledger.Founder) error
	SaveUser(ctx context.Context, u ledger.UserAccount) error
	SaveCompletion(ctx context.Context, c Completion) error
	SaveFailedWithdrawal(ctx context.Context, w Withdrawal) error
	SaveUserWithdrawal(ctx context.Context, w UserWithdrawal, u ledger.UserAccount, totals ledger.Totals) error
	Withdrawals(ctx context.Context, founderID string) ([]Withdrawal, error)
	Reinvestments(ctx context.Context, founderID string) ([]Reinvestment, error)
}

// MemoryStore keeps everything in process.
type MemoryStore struct {
	mu              sync.Mutex
	founders        map[string]ledger.Founder
	users           map[string]ledger.UserAccount
	withdrawals     []Withdrawal
	reinvestments   []Reinvestment
	userWithdrawals []UserWithdrawal
	totals          ledger.Totals
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		founders: make(map[string]ledger.Founder),
		users:    make(map[string]ledger.UserAccount),
	}
}

func (m *MemoryStore) SaveFounder(_ context.Context, f ledger.Founder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.founders[f.ID] = f
	return nil
}

func (m *MemoryStore) SaveUser(_ context.Context, u ledger.UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) SaveCompletion(_ context.Context, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.founders[c.Founder.ID] = c.Founder
	m.totals = c.Totals
	if c.Withdrawal != nil {
		m.withdrawals = append(m.withdrawals, *c.Withdrawal)
	}
	if c.Reinvestment != nil {
		m.reinvestments = append(m.reinvestments, *c.Reinvestment)
	}
	return nil
}

func (m *MemoryStore) SaveFailedWithdrawal(_ context.Context, w Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals = append(m.withdrawals, w)
	return nil
}

func (m *MemoryStore) SaveUserWithdrawal(_ context.Context, w UserWithdrawal, u ledger.UserAccount, totals ledger.Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userWithdrawals = append(m.userWithdrawals, w)
	m.users[u.ID] = u
	m.totals = totals
	return nil
}

func (m *MemoryStore) Withdrawals(_ context.Context, founderID string) ([]Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Withdrawal
	for _, w := range m.withdrawals {
		if w.FounderID == founderID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryStore) Reinvestments(_ context.Context, founderID string) ([]Reinvestment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reinvestment
	for _, r := range m.reinvestments {
		if r.FounderID == founderID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Founders returns the persisted founder snapshots.
func (m *MemoryStore) Founders() []ledger.Founder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Founder, 0, len(m.founders))
	for _, f := range m.founders {
		out = append(out, f)
	}
	return out
}
