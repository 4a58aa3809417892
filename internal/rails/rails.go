package rails

import (
	"context"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// Pair identifies an exchange rate, base then quote currency.
type Pair string

const PairUSDZAR Pair = "USD_ZAR"

// Receipt is what a bank returns for a transfer. A transfer counts only when
// Success is true.
type Receipt struct {
	Success       bool      `json:"success"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChainReceipt is the result of mirroring a withdrawal on chain.
type ChainReceipt struct {
	TransactionID string `json:"transaction_id"`
}

// Quote is an exchange rate observed at AsOf.
type Quote struct {
	Pair Pair            `json:"pair"`
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

// BankTransfer pays fiat into a founder bank account. Implementations must
// treat reference as an idempotency key; the caller never retries.
type BankTransfer interface {
	Transfer(ctx context.Context, account ledger.BankAccount, amount *money.Money, reference string) (Receipt, error)
}

// BlockchainRecorder mirrors a committed withdrawal on chain.
type BlockchainRecorder interface {
	Record(ctx context.Context, founderID string, amount int64, typ string, metadata map[string]any) (ChainReceipt, error)
}

type ExchangeRateProvider interface {
	Rate(ctx context.Context, pair Pair) (Quote, error)
}
