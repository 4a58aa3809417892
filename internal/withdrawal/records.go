package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// Record status values
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Withdrawal is an append-only record of a personal leg.
type Withdrawal struct {
	ID                string          `json:"id"`
	FounderID         string          `json:"founder_id"`
	Amount            int64           `json:"amount"`
	FiatUSD           decimal.Decimal `json:"fiat_usd"`
	FiatZAR           decimal.Decimal `json:"fiat_zar"`
	Rate              decimal.Decimal `json:"rate"`
	BankAccountID     string          `json:"bank_account_id,omitempty"`
	BankTransactionID string          `json:"bank_transaction_id,omitempty"`
	BlockchainTx      *string         `json:"blockchain_tx"`
	Status            string          `json:"status"`
	Warning           string          `json:"warning,omitempty"`
	Reference         string          `json:"reference"`
	CreatedAt         time.Time       `json:"created_at"`
}

type ProjectAllocation struct {
	ProjectID string `json:"project_id"`
	Amount    int64  `json:"amount"`
}

// Reinvestment is an append-only record of a reinvestment leg.
type Reinvestment struct {
	ID           string              `json:"id"`
	FounderID    string              `json:"founder_id"`
	Amount       int64               `json:"amount"`
	FiatUSD      decimal.Decimal     `json:"fiat_usd"`
	FiatZAR      decimal.Decimal     `json:"fiat_zar"`
	Rate         decimal.Decimal     `json:"rate"`
	Projects     []ProjectAllocation `json:"projects"`
	BlockchainTx *string             `json:"blockchain_tx"`
	Status       string              `json:"status"`
	Warning      string              `json:"warning,omitempty"`
	Reference    string              `json:"reference"`
	CreatedAt    time.Time           `json:"created_at"`
}

// UserWithdrawal is a withdrawal from the user pool.
type UserWithdrawal struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	WalletAddress string    `json:"wallet_address"`
	BlockchainTx  *string   `json:"blockchain_tx"`
	Warning       string    `json:"warning,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Completion is everything a completed withdrawal persists in one unit.
type Completion struct {
	Founder      ledger.Founder
	Totals       ledger.Totals
	Withdrawal   *Withdrawal
	Reinvestment *Reinvestment
}

// Request asks for a founder withdrawal. For the both type either set
// Personal and Reinvestment explicitly or set Amount and let it be split
// 40/60.
type Request struct {
	FounderID     string                `json:"founder_id"`
	Type          ledger.WithdrawalType `json:"type"`
	Amount        int64                 `json:"amount"`
	Personal      int64                 `json:"personal"`
	Reinvestment  int64                 `json:"reinvestment"`
	BankAccountID string                `json:"bank_account_id"`
	Projects      []string              `json:"projects"`
	ApprovedBy    string                `json:"approved_by"`
	Reference     string                `json:"reference"`
}

// legs resolves the per-leg token amounts of the request.
func (r Request) legs() (personal, reinvestment int64) {
	switch r.Type {
	case ledger.Personal:
		return r.Amount, 0
	case ledger.Reinvestment:
		return 0, r.Amount
	case ledger.Both:
		if r.Personal == 0 && r.Reinvestment == 0 {
			return SplitAmount(r.Amount)
		}
		return r.Personal, r.Reinvestment
	}
	return 0, 0
}

// Result describes a finished attempt. On rejection State is StateRejected
// and the returned error carries the reason.
type Result struct {
	State        State                 `json:"state"`
	FounderID    string                `json:"founder_id"`
	Type         ledger.WithdrawalType `json:"type"`
	Reference    string                `json:"reference"`
	Withdrawal   *Withdrawal           `json:"withdrawal,omitempty"`
	Reinvestment *Reinvestment         `json:"reinvestment,omitempty"`
	Remaining    ledger.Remaining      `json:"remaining"`
	Warning      string                `json:"warning,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	Trace        []State               `json:"trace"`
}
