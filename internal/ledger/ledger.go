package ledger

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Constitutional defaults for the AZR token.
const (
	DefaultTotalSupply int64 = 1_000_000
	DefaultFounderPool int64 = 400_000
	DefaultUserPool    int64 = 600_000

	// MaxSupply keeps total × 4 in SplitAllocation inside int64.
	MaxSupply int64 = math.MaxInt64 / 10
)

type Options struct {
	TotalSupply int64
	FounderPool int64
	UserPool    int64
	Now         func() time.Time
}

// Ledger owns the per-founder and global token counters. It performs no
// I/O; callers persist what it returns. The mutex only ever guards counter
// reads and writes and is never held across external calls. Serialization
// of a founder's whole withdrawal is the job of a Locker.
type Ledger struct {
	mu sync.RWMutex

	totals Totals

	// founders is an arena indexed by founderIdx; entries are never removed
	founders   []Founder
	founderIdx map[string]int

	users   []UserAccount
	userIdx map[string]int

	now func() time.Time
}

// New returns an empty ledger. Zero options take the constitutional defaults.
func New(opts Options) (*Ledger, error) {
	if opts.TotalSupply == 0 {
		opts.TotalSupply = DefaultTotalSupply
	}
	if opts.FounderPool == 0 {
		opts.FounderPool = DefaultFounderPool
	}
	if opts.UserPool == 0 {
		opts.UserPool = DefaultUserPool
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TotalSupply < 0 || opts.FounderPool < 0 || opts.UserPool < 0 {
		return nil, NewError(ErrValidation, "", "token pools must not be negative")
	}
	if opts.TotalSupply > MaxSupply {
		return nil, NewError(ErrValidation, "", "total supply %d exceeds the maximum of %d", opts.TotalSupply, MaxSupply)
	}
	if opts.FounderPool > opts.TotalSupply || opts.UserPool > opts.TotalSupply-opts.FounderPool {
		return nil, NewError(ErrCapacityExceeded, "",
			"founder pool %d plus user pool %d exceeds total supply %d",
			opts.FounderPool, opts.UserPool, opts.TotalSupply)
	}
	return &Ledger{
		totals: Totals{
			TotalSupply: opts.TotalSupply,
			Allocated:   Pools{Founders: opts.FounderPool, Users: opts.UserPool},
		},
		founderIdx: make(map[string]int),
		userIdx:    make(map[string]int),
		now:        opts.Now,
	}, nil
}

// SplitAllocation applies the 40/60 rule. Personal is total × 0.4 rounded
// half away from zero; reinvestment takes the rest so the legs always sum to
// total exactly.
func SplitAllocation(total int64) Allocation {
	personal := (total*4 + 5) / 10
	return Allocation{
		Total:        total,
		Personal:     personal,
		Reinvestment: total - personal,
	}
}

// RegisterFounder adds a founder with a 40/60 split allocation. It fails with
// ErrCapacityExceeded, leaving the ledger untouched, when the new total would
// push the sum of founder allocations past the founder pool. Registration
// closes once any user has withdrawn, since a new founder would be unsettled.
func (l *Ledger) RegisterFounder(spec FounderSpec) (Founder, error) {
	spec.ID = strings.TrimSpace(spec.ID)
	if spec.ID == "" {
		return Founder{}, NewError(ErrValidation, "", "founder id is required")
	}
	if spec.Total <= 0 {
		return Founder{}, NewError(ErrValidation, spec.ID, "allocation total must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.founderIdx[spec.ID]; ok {
		return Founder{}, NewError(ErrValidation, spec.ID, "founder already registered")
	}
	if l.totals.Withdrawn.Users > 0 {
		return Founder{}, NewError(ErrUserWithdrawalsLocked, spec.ID,
			"founder registration is closed once user withdrawals have started").
			With("users_withdrawn", l.totals.Withdrawn.Users)
	}
	if spec.Total > l.totals.Allocated.Founders-l.totals.Registered.Founders {
		return Founder{}, NewError(ErrCapacityExceeded, spec.ID,
			"allocation %d exceeds founder pool capacity (%d of %d registered)",
			spec.Total, l.totals.Registered.Founders, l.totals.Allocated.Founders).
			With("requested", spec.Total).
			With("available", l.totals.Allocated.Founders-l.totals.Registered.Founders)
	}

	f := Founder{
		ID:               spec.ID,
		Name:             spec.Name,
		Email:            spec.Email,
		Role:             spec.Role,
		Allocation:       SplitAllocation(spec.Total),
		BankAccounts:     append([]BankAccount(nil), spec.BankAccounts...),
		Status:           StatusActive,
		SkipBankTransfer: spec.SkipBankTransfer,
		CreatedAt:        l.now().UTC(),
	}
	l.founderIdx[f.ID] = len(l.founders)
	l.founders = append(l.founders, f)
	l.totals.Registered.Founders += spec.Total

	return f.clone(), nil
}

// Founder returns a copy of the founder record.
func (l *Ledger) Founder(id string) (Founder, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.founderIdx[id]
	if !ok {
		return Founder{}, NewError(ErrNotFound, id, "founder not found")
	}
	return l.founders[i].clone(), nil
}

// Founders returns copies of all founders in registration order.
func (l *Ledger) Founders() []Founder {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Founder, 0, len(l.founders))
	for _, f := range l.founders {
		out = append(out, f.clone())
	}
	return out
}

// ReserveSnapshot returns a point-in-time view of a founder's remaining
// balances. Commit re-checks against live counters, so the snapshot is only
// authoritative while the caller holds the founder's lock.
func (l *Ledger) ReserveSnapshot(founderID string) (Remaining, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.founderIdx[founderID]
	if !ok {
		return Remaining{}, NewError(ErrNotFound, founderID, "founder not found")
	}
	return l.founders[i].Remaining(), nil
}

// Commit withdraws amount tokens from one leg of a founder allocation.
func (l *Ledger) Commit(founderID string, t WithdrawalType, amount int64) error {
	return l.CommitLegs(founderID, Leg{Type: t, Amount: amount})
}

// CommitLegs applies every leg or none of them. Each leg is re-checked
// against the live remaining balance at commit time.
func (l *Ledger) CommitLegs(founderID string, legs ...Leg) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.founderIdx[founderID]
	if !ok {
		return NewError(ErrNotFound, founderID, "founder not found")
	}
	f := &l.founders[i]

	remaining := f.Remaining()
	for _, leg := range legs {
		if leg.Type != Personal && leg.Type != Reinvestment {
			return NewError(ErrValidation, founderID, "cannot commit leg of type %q", leg.Type)
		}
		if leg.Amount <= 0 {
			return NewError(ErrValidation, founderID, "commit amount must be positive")
		}
		left := remaining.Of(leg.Type)
		if leg.Amount > left {
			return NewError(ErrInsufficientAllocation, founderID,
				"%s amount %d exceeds remaining %d", leg.Type, leg.Amount, left).
				With("type", string(leg.Type)).
				With("requested", leg.Amount).
				With("remaining", left)
		}
		switch leg.Type {
		case Personal:
			remaining.Personal -= leg.Amount
		case Reinvestment:
			remaining.Reinvestment -= leg.Amount
		}
	}

	for _, leg := range legs {
		switch leg.Type {
		case Personal:
			f.Withdrawn.Personal += leg.Amount
		case Reinvestment:
			f.Withdrawn.Reinvestment += leg.Amount
		}
		l.totals.Withdrawn.Founders += leg.Amount
		l.totals.Circulating += leg.Amount
	}
	return nil
}

// Totals returns the global token ledger.
func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals
}

// FoundersSettled reports whether every registered founder has withdrawn both
// legs in full. User withdrawals are gated on it.
func (l *Ledger) FoundersSettled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.foundersSettledLocked()
}

func (l *Ledger) foundersSettledLocked() bool {
	for _, f := range l.founders {
		if !f.Settled() {
			return false
		}
	}
	return true
}

// RegisterUser gives a user an allocation out of the user pool.
func (l *Ledger) RegisterUser(id string, allocation int64) (UserAccount, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UserAccount{}, NewError(ErrValidation, "", "user id is required")
	}
	if allocation <= 0 {
		return UserAccount{}, NewError(ErrValidation, "", "user allocation must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.userIdx[id]; ok {
		return UserAccount{}, NewError(ErrValidation, "", "user %s already registered", id)
	}
	if allocation > l.totals.Allocated.Users-l.totals.Registered.Users {
		return UserAccount{}, NewError(ErrCapacityExceeded, "",
			"user allocation %d exceeds user pool capacity", allocation).
			With("available", l.totals.Allocated.Users-l.totals.Registered.Users)
	}
	u := UserAccount{ID: id, Allocation: allocation, CreatedAt: l.now().UTC()}
	l.userIdx[id] = len(l.users)
	l.users = append(l.users, u)
	l.totals.Registered.Users += allocation
	return u, nil
}

// User returns a copy of a user account.
func (l *Ledger) User(id string) (UserAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.userIdx[id]
	if !ok {
		return UserAccount{}, NewError(ErrNotFound, "", "user %s not found", id)
	}
	return l.users[i], nil
}

// CommitUser withdraws from a user allocation. It refuses with
// ErrUserWithdrawalsLocked until every founder is settled.
func (l *Ledger) CommitUser(id string, amount int64) (UserAccount, error) {
	if amount <= 0 {
		return UserAccount{}, NewError(ErrValidation, "", "amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.foundersSettledLocked() {
		return UserAccount{}, NewError(ErrUserWithdrawalsLocked, "",
			"founders must complete all withdrawals and reinvestments first")
	}
	i, ok := l.userIdx[id]
	if !ok {
		return UserAccount{}, NewError(ErrNotFound, "", "user %s not found", id)
	}
	u := &l.users[i]
	if amount > u.Remaining() {
		return UserAccount{}, NewError(ErrInsufficientAllocation, "",
			"amount %d exceeds remaining user allocation %d", amount, u.Remaining()).
			With("remaining", u.Remaining())
	}
	u.Withdrawn += amount
	l.totals.Withdrawn.Users += amount
	l.totals.Circulating += amount
	return *u, nil
}

// Restore replaces the ledger contents with persisted state and verifies the
// invariants. On failure the ledger is left unchanged.
func (l *Ledger) Restore(founders []Founder, users []UserAccount) error {
	next := &Ledger{
		totals: Totals{
			TotalSupply: l.totals.TotalSupply,
			Allocated:   l.totals.Allocated,
		},
		founderIdx: make(map[string]int, len(founders)),
		userIdx:    make(map[string]int, len(users)),
		now:        l.now,
	}
	for _, f := range founders {
		if _, dup := next.founderIdx[f.ID]; dup {
			return NewError(ErrInvariant, f.ID, "duplicate founder in persisted state")
		}
		if f.Status == "" {
			f.Status = StatusActive
		}
		next.founderIdx[f.ID] = len(next.founders)
		next.founders = append(next.founders, f.clone())
		next.totals.Registered.Founders += f.Allocation.Total
		w := f.Withdrawn.Personal + f.Withdrawn.Reinvestment
		next.totals.Withdrawn.Founders += w
		next.totals.Circulating += w
	}
	for _, u := range users {
		if _, dup := next.userIdx[u.ID]; dup {
			return NewError(ErrInvariant, "", "duplicate user %s in persisted state", u.ID)
		}
		next.userIdx[u.ID] = len(next.users)
		next.users = append(next.users, u)
		next.totals.Registered.Users += u.Allocation
		next.totals.Withdrawn.Users += u.Withdrawn
		next.totals.Circulating += u.Withdrawn
	}
	if err := next.checkInvariantsLocked(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals = next.totals
	l.founders = next.founders
	l.founderIdx = next.founderIdx
	l.users = next.users
	l.userIdx = next.userIdx
	return nil
}

// CheckInvariants verifies every ledger invariant against current state.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkInvariantsLocked()
}

func (l *Ledger) checkInvariantsLocked() error {
	var registered, withdrawn int64
	for _, f := range l.founders {
		a := f.Allocation
		if a.Personal+a.Reinvestment != a.Total {
			return NewError(ErrInvariant, f.ID, "allocation legs %d+%d do not sum to total %d",
				a.Personal, a.Reinvestment, a.Total)
		}
		if f.Withdrawn.Personal < 0 || f.Withdrawn.Reinvestment < 0 {
			return NewError(ErrInvariant, f.ID, "negative withdrawn counter")
		}
		if f.Withdrawn.Personal > a.Personal {
			return NewError(ErrInvariant, f.ID, "personal withdrawn %d exceeds allocation %d",
				f.Withdrawn.Personal, a.Personal)
		}
		if f.Withdrawn.Reinvestment > a.Reinvestment {
			return NewError(ErrInvariant, f.ID, "reinvestment withdrawn %d exceeds allocation %d",
				f.Withdrawn.Reinvestment, a.Reinvestment)
		}
		registered += a.Total
		withdrawn += f.Withdrawn.Personal + f.Withdrawn.Reinvestment
	}
	if registered > l.totals.Allocated.Founders {
		return NewError(ErrInvariant, "", "founder allocations %d exceed founder pool %d",
			registered, l.totals.Allocated.Founders)
	}

	var userRegistered, userWithdrawn int64
	for _, u := range l.users {
		if u.Withdrawn < 0 || u.Withdrawn > u.Allocation {
			return NewError(ErrInvariant, "", "user %s withdrawn %d outside allocation %d",
				u.ID, u.Withdrawn, u.Allocation)
		}
		userRegistered += u.Allocation
		userWithdrawn += u.Withdrawn
	}
	if userRegistered > l.totals.Allocated.Users {
		return NewError(ErrInvariant, "", "user allocations %d exceed user pool %d",
			userRegistered, l.totals.Allocated.Users)
	}
	if userWithdrawn > 0 && !l.foundersSettledLocked() {
		return NewError(ErrInvariant, "", "users withdrew before founders settled")
	}
	if l.totals.Circulating != withdrawn+userWithdrawn {
		return NewError(ErrInvariant, "", "circulating %d does not match withdrawn %d",
			l.totals.Circulating, withdrawn+userWithdrawn)
	}
	return nil
}
