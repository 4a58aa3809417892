package rails

import (
	"context"
	"sync"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// SimulatedBank accepts every transfer and remembers references so a
// repeated reference returns the first receipt.
type SimulatedBank struct {
	mu       sync.Mutex
	receipts map[string]Receipt
}

func NewSimulatedBank() *SimulatedBank {
	return &SimulatedBank{receipts: make(map[string]Receipt)}
}

func (s *SimulatedBank) Transfer(ctx context.Context, _ ledger.BankAccount, _ *money.Money, reference string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.receipts[reference]; ok {
		return r, nil
	}
	r := Receipt{Success: true, TransactionID: "BANK-" + uuid.New().String(), Timestamp: time.Now().UTC()}
	s.receipts[reference] = r
	return r, nil
}

// SimulatedChain hands out transaction ids without a node.
type SimulatedChain struct{}

func (SimulatedChain) Record(ctx context.Context, _ string, _ int64, _ string, _ map[string]any) (ChainReceipt, error) {
	if err := ctx.Err(); err != nil {
		return ChainReceipt{}, err
	}
	return ChainReceipt{TransactionID: "0x" + uuid.New().String()}, nil
}
