package ledger

import "time"

// WithdrawalType selects which leg(s) of a founder allocation a request draws on.
type WithdrawalType string

const (
	Personal     WithdrawalType = "personal"
	Reinvestment WithdrawalType = "reinvestment"
	Both         WithdrawalType = "both"
)

// Valid reports whether t is one of the known withdrawal types.
func (t WithdrawalType) Valid() bool {
	switch t {
	case Personal, Reinvestment, Both:
		return true
	}
	return false
}

// Founder status values
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Allocation is fixed at registration.
type Allocation struct {
	Total        int64 `json:"total"`
	Personal     int64 `json:"personal"`
	Reinvestment int64 `json:"reinvestment"`
}

// Withdrawn counters only ever grow.
type Withdrawn struct {
	Personal     int64 `json:"personal"`
	Reinvestment int64 `json:"reinvestment"`
}

// Remaining is allocation minus withdrawn, per leg.
type Remaining struct {
	Personal     int64 `json:"personal"`
	Reinvestment int64 `json:"reinvestment"`
}

// Total is the sum of both legs.
func (r Remaining) Total() int64 {
	return r.Personal + r.Reinvestment
}

// Of returns the remaining balance for a single leg.
func (r Remaining) Of(t WithdrawalType) int64 {
	switch t {
	case Personal:
		return r.Personal
	case Reinvestment:
		return r.Reinvestment
	}
	return 0
}

type BankAccount struct {
	ID            string `json:"id" yaml:"id"`
	Bank          string `json:"bank" yaml:"bank"`
	AccountNumber string `json:"account_number" yaml:"accountNumber"`
	AccountType   string `json:"account_type" yaml:"accountType"`
	Verified      bool   `json:"verified" yaml:"verified"`
}

// Founder is immutable after registration except for Withdrawn.
type Founder struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	Role         string        `json:"role"`
	Allocation   Allocation    `json:"allocation"`
	Withdrawn    Withdrawn     `json:"withdrawn"`
	BankAccounts []BankAccount `json:"bank_accounts"`
	Status       string        `json:"status"`
	// SkipBankTransfer marks founders whose personal leg settles without a
	// bank payment (the AI founder).
	SkipBankTransfer bool      `json:"skip_bank_transfer"`
	CreatedAt        time.Time `json:"created_at"`
}

// Remaining derives the unspent balance of each leg.
func (f Founder) Remaining() Remaining {
	return Remaining{
		Personal:     f.Allocation.Personal - f.Withdrawn.Personal,
		Reinvestment: f.Allocation.Reinvestment - f.Withdrawn.Reinvestment,
	}
}

// Settled reports whether both legs have been fully withdrawn.
func (f Founder) Settled() bool {
	return f.Withdrawn.Personal >= f.Allocation.Personal &&
		f.Withdrawn.Reinvestment >= f.Allocation.Reinvestment
}

// Account looks up a bank account by id.
func (f Founder) Account(id string) (BankAccount, bool) {
	for _, a := range f.BankAccounts {
		if a.ID == id {
			return a, true
		}
	}
	return BankAccount{}, false
}

func (f Founder) clone() Founder {
	c := f
	c.BankAccounts = append([]BankAccount(nil), f.BankAccounts...)
	return c
}

// FounderSpec is the input to RegisterFounder.
type FounderSpec struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	Email            string        `json:"email" yaml:"email"`
	Role             string        `json:"role" yaml:"role"`
	Total            int64         `json:"total" yaml:"total"`
	BankAccounts     []BankAccount `json:"bank_accounts" yaml:"bankAccounts"`
	SkipBankTransfer bool          `json:"skip_bank_transfer" yaml:"skipBankTransfer"`
}

// UserAccount draws on the user pool once every founder is settled.
type UserAccount struct {
	ID         string    `json:"id"`
	Allocation int64     `json:"allocation"`
	Withdrawn  int64     `json:"withdrawn"`
	CreatedAt  time.Time `json:"created_at"`
}

// Remaining is the user's unspent allocation.
func (u UserAccount) Remaining() int64 {
	return u.Allocation - u.Withdrawn
}

// Pools splits an amount between founders and users.
type Pools struct {
	Founders int64 `json:"founders"`
	Users    int64 `json:"users"`
}

// Totals is the global token ledger.
type Totals struct {
	TotalSupply int64 `json:"total_supply"`
	Allocated   Pools `json:"allocated"`
	Registered  Pools `json:"registered"`
	Withdrawn   Pools `json:"withdrawn"`
	Circulating int64 `json:"circulating"`
}

// Leg is a single commit against one side of a founder allocation.
type Leg struct {
	Type   WithdrawalType
	Amount int64
}
