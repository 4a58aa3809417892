package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Rhymond/go-money"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// HTTPBank posts transfers to a bank gateway at {BaseURL}/transfers.
type HTTPBank struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type transferBody struct {
	AccountID     string `json:"account_id"`
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
}

func (b *HTTPBank) Transfer(ctx context.Context, account ledger.BankAccount, amount *money.Money, reference string) (Receipt, error) {
	payload := transferBody{
		AccountID:     account.ID,
		Bank:          account.Bank,
		AccountNumber: account.AccountNumber,
		AccountType:   account.AccountType,
		AmountCents:   amount.Amount(),
		Currency:      amount.Currency().Code,
		Reference:     reference,
	}
	var out Receipt
	headers := map[string]string{"Idempotency-Key": reference}
	if b.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.APIKey
	}
	if err := postJSON(ctx, client(b.Client), b.BaseURL+"/transfers", headers, payload, &out); err != nil {
		return Receipt{}, fmt.Errorf("bank transfer %s: %w", reference, err)
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return out, nil
}

// HTTPChain records withdrawals on a blockchain node.
type HTTPChain struct {
	BaseURL string
	Path    string
	Client  *http.Client
}

// DefaultChainPath is the node endpoint for founder withdrawals.
const DefaultChainPath = "/api/founder-withdrawal"

type chainBody struct {
	FounderID string         `json:"founderId"`
	Amount    int64          `json:"amount"`
	Metadata  map[string]any `json:"metadata"`
}

type chainResponse struct {
	TransactionID string `json:"transactionId"`
}

func (c *HTTPChain) Record(ctx context.Context, founderID string, amount int64, typ string, metadata map[string]any) (ChainReceipt, error) {
	meta := map[string]any{
		"withdrawalType": typ,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		meta[k] = v
	}
	path := c.Path
	if path == "" {
		path = DefaultChainPath
	}
	var out chainResponse
	body := chainBody{FounderID: founderID, Amount: amount, Metadata: meta}
	if err := postJSON(ctx, client(c.Client), c.BaseURL+path, nil, body, &out); err != nil {
		return ChainReceipt{}, fmt.Errorf("record on chain: %w", err)
	}
	if out.TransactionID == "" {
		return ChainReceipt{}, fmt.Errorf("record on chain: empty transaction id")
	}
	return ChainReceipt{TransactionID: out.TransactionID}, nil
}

func postJSON(ctx context.Context, c *http.Client, url string, headers map[string]string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(msg) > 0 {
			return fmt.Errorf("status=%d body=%s", resp.StatusCode, msg)
		}
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
