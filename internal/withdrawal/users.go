package withdrawal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// RegisterFounder adds a founder to the ledger and persists it.
func (c *Coordinator) RegisterFounder(ctx context.Context, spec ledger.FounderSpec) (ledger.Founder, error) {
	f, err := c.ledger.RegisterFounder(spec)
	if err != nil {
		return ledger.Founder{}, err
	}
	if err := c.store.SaveFounder(ctx, f); err != nil {
		// the next completion upserts the founder row
		c.logger.Error("failed to persist founder", zap.String("founder_id", f.ID), zap.Error(err))
	}
	c.appendAudit(ctx, audit.ActionFounderRegistered, f.ID, map[string]any{
		"name":         f.Name,
		"role":         f.Role,
		"total":        f.Allocation.Total,
		"personal":     f.Allocation.Personal,
		"reinvestment": f.Allocation.Reinvestment,
	})
	return f, nil
}

// RegisterUser gives a user an allocation from the user pool.
func (c *Coordinator) RegisterUser(ctx context.Context, id string, allocation int64) (ledger.UserAccount, error) {
	u, err := c.ledger.RegisterUser(id, allocation)
	if err != nil {
		return ledger.UserAccount{}, err
	}
	if err := c.store.SaveUser(ctx, u); err != nil {
		c.logger.Error("failed to persist user", zap.String("user_id", u.ID), zap.Error(err))
	}
	return u, nil
}

// WithdrawUser draws from a user allocation. It is refused until every
// founder has withdrawn both legs in full. Blockchain recording is
// non-fatal, as for founders.
func (c *Coordinator) WithdrawUser(ctx context.Context, userID string, amount int64, walletAddress string) (UserWithdrawal, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return UserWithdrawal{}, ledger.NewError(ledger.ErrValidation, "", "wallet address is required")
	}
	u, err := c.ledger.CommitUser(userID, amount)
	if err != nil {
		c.appendAudit(ctx, audit.ActionUserWithdrawal, "", map[string]any{
			"user_id": userID,
			"amount":  amount,
			"status":  "rejected",
			"reason":  err.Error(),
		})
		return UserWithdrawal{}, err
	}
	ctx = context.WithoutCancel(ctx)
	c.metrics.Committed("user", amount)
	c.metrics.Circulating(c.ledger.Totals().Circulating)

	w := UserWithdrawal{
		ID:            uuid.New().String(),
		UserID:        userID,
		Amount:        amount,
		WalletAddress: walletAddress,
		CreatedAt:     c.now().UTC(),
	}

	tctx, cancel := context.WithTimeout(ctx, c.chainTimeout)
	started := time.Now()
	rec, err := c.chain.Record(tctx, userID, amount, "user", map[string]any{
		"withdrawalId":  w.ID,
		"walletAddress": walletAddress,
	})
	cancel()
	c.metrics.External("blockchain", started, err)
	if err != nil {
		c.logger.Warn("user withdrawal not recorded on chain", zap.String("user_id", userID), zap.Error(err))
		w.Warning = WarnBlockchain
	} else {
		tx := rec.TransactionID
		w.BlockchainTx = &tx
	}

	if err := c.store.SaveUserWithdrawal(ctx, w, u, c.ledger.Totals()); err != nil {
		c.logger.Error("failed to persist user withdrawal", zap.String("user_id", userID), zap.Error(err))
		if w.Warning == "" {
			w.Warning = WarnPersistence
		}
	}
	c.appendAudit(ctx, audit.ActionUserWithdrawal, "", map[string]any{
		"user_id":       userID,
		"withdrawal_id": w.ID,
		"amount":        amount,
		"status":        StatusCompleted,
		"blockchain_tx": w.BlockchainTx,
		"warning":       w.Warning,
	})
	return w, nil
}
