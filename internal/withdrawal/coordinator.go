package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/compliance"
	"github.com/sudo-init-do/founderledger/internal/ledger"
	"github.com/sudo-init-do/founderledger/internal/metrics"
	"github.com/sudo-init-do/founderledger/internal/rails"
)

const (
	DefaultBankTimeout  = 15 * time.Second
	DefaultChainTimeout = 5 * time.Second
)

// Warning texts attached to completed withdrawals.
const (
	WarnBlockchain  = "withdrawal completed but blockchain recording failed"
	WarnPersistence = "withdrawal completed but the record could not be persisted"
)

// Compliance is the part of the compliance gate the coordinator needs.
type Compliance interface {
	CheckCompliance(ctx context.Context, founderID string) (compliance.Status, error)
}

type Options struct {
	Bank     rails.BankTransfer
	Chain    rails.BlockchainRecorder
	Rates    rails.ExchangeRateProvider
	Locker   ledger.Locker
	Store    Store
	Audit    *audit.Log
	Notifier Notifier
	Metrics  *metrics.Withdrawals
	Logger   *zap.Logger

	Projects      []Project
	Policies      []PolicyException
	TokenValueUSD decimal.Decimal
	BankTimeout   time.Duration
	ChainTimeout  time.Duration
	Now           func() time.Time
}

// Coordinator runs founder withdrawals: compliance, split validation, the
// bank leg, the ledger commit and the blockchain mirror, in that order.
type Coordinator struct {
	ledger     *ledger.Ledger
	compliance Compliance

	bank     rails.BankTransfer
	chain    rails.BlockchainRecorder
	rates    rails.ExchangeRateProvider
	locker   ledger.Locker
	store    Store
	audit    *audit.Log
	notifier Notifier
	metrics  *metrics.Withdrawals
	logger   *zap.Logger

	projects      []Project
	projectIdx    map[string]Project
	policies      map[string]PolicyException
	tokenValueUSD decimal.Decimal
	bankTimeout   time.Duration
	chainTimeout  time.Duration
	now           func() time.Time

	// refs maps each claimed reference to its founder. A claim is dropped
	// when the attempt is rejected before commit.
	refMu sync.Mutex
	refs  map[string]string
}

func NewCoordinator(l *ledger.Ledger, gate Compliance, opts Options) (*Coordinator, error) {
	if l == nil || gate == nil {
		return nil, errors.New("ledger and compliance gate are required")
	}
	if opts.Bank == nil || opts.Chain == nil || opts.Rates == nil {
		return nil, errors.New("bank, blockchain and exchange rate collaborators are required")
	}
	if opts.Locker == nil {
		opts.Locker = ledger.NewLocalLocker()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.New(nil, opts.Logger)
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Projects == nil {
		opts.Projects = DefaultProjects
	}
	if opts.TokenValueUSD.IsZero() {
		opts.TokenValueUSD = rails.DefaultTokenValueUSD
	}
	if opts.BankTimeout <= 0 {
		opts.BankTimeout = DefaultBankTimeout
	}
	if opts.ChainTimeout <= 0 {
		opts.ChainTimeout = DefaultChainTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		ledger:        l,
		compliance:    gate,
		bank:          opts.Bank,
		chain:         opts.Chain,
		rates:         opts.Rates,
		locker:        opts.Locker,
		store:         opts.Store,
		audit:         opts.Audit,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		projects:      opts.Projects,
		projectIdx:    make(map[string]Project, len(opts.Projects)),
		policies:      make(map[string]PolicyException, len(opts.Policies)),
		tokenValueUSD: opts.TokenValueUSD,
		bankTimeout:   opts.BankTimeout,
		chainTimeout:  opts.ChainTimeout,
		now:           opts.Now,
		refs:          make(map[string]string),
	}
	for _, p := range opts.Projects {
		c.projectIdx[p.ID] = p
	}
	for _, p := range opts.Policies {
		c.policies[p.FounderID] = p
	}
	return c, nil
}

// Projects returns the reinvestment catalog.
func (c *Coordinator) Projects() []Project {
	return append([]Project(nil), c.projects...)
}

// attempt carries one withdrawal through the state machine.
type attempt struct {
	req          Request
	founder      ledger.Founder
	personal     int64
	reinvestment int64
	account      ledger.BankAccount
	allocations  []ProjectAllocation
	quote        rails.Quote
	receipt      rails.Receipt
	result       Result

	claimed   bool
	committed bool
}

func (a *attempt) enter(s State) {
	a.result.State = s
	a.result.Trace = append(a.result.Trace, s)
}

// Withdraw runs one withdrawal attempt. It returns a Result in every case;
// err is non-nil exactly when the attempt was rejected.
func (c *Coordinator) Withdraw(ctx context.Context, req Request) (Result, error) {
	if req.Reference == "" {
		req.Reference = uuid.New().String()
	}
	a := &attempt{req: req}
	a.result.FounderID = req.FounderID
	a.result.Type = req.Type
	a.result.Reference = req.Reference
	a.enter(StateRequested)
	c.appendAudit(ctx, audit.ActionWithdrawalRequested, req.FounderID, map[string]any{
		"reference":    req.Reference,
		"type":         req.Type,
		"amount":       req.Amount,
		"personal":     req.Personal,
		"reinvestment": req.Reinvestment,
		"projects":     req.Projects,
	})

	if err := c.validate(a); err != nil {
		return c.reject(ctx, a, err)
	}

	unlock, err := c.locker.Lock(ctx, req.FounderID)
	if err != nil {
		return c.reject(ctx, a, err)
	}
	defer unlock()

	if err := c.checkReference(ctx, a); err != nil {
		return c.reject(ctx, a, err)
	}
	if err := c.checkCompliance(ctx, a); err != nil {
		return c.reject(ctx, a, err)
	}
	a.enter(StateComplianceChecked)

	if err := c.checkPolicy(a); err != nil {
		return c.reject(ctx, a, err)
	}
	if err := c.checkRemaining(a); err != nil {
		return c.reject(ctx, a, err)
	}
	if err := c.checkSplit(a); err != nil {
		return c.reject(ctx, a, err)
	}
	if err := c.prepareLegs(a); err != nil {
		return c.reject(ctx, a, err)
	}
	a.enter(StateSplitValidated)

	q, err := c.rates.Rate(ctx, rails.PairUSDZAR)
	if err != nil {
		return c.reject(ctx, a, ledger.NewError(ledger.ErrExchangeRate, req.FounderID,
			"no USD/ZAR rate available").Wrap(err))
	}
	a.quote = q

	if c.needsBank(a) {
		a.enter(StateBankTransferPending)
		if step := c.transfer(ctx, a); step.Failed() {
			c.recordFailedTransfer(ctx, a, step.Err)
			return c.reject(ctx, a, step.Err)
		}
	}

	// funds may have moved; nothing below may be abandoned on cancellation
	ctx = context.WithoutCancel(ctx)

	if err := c.commit(a); err != nil {
		c.logger.Error("ledger commit failed after external step succeeded",
			zap.String("founder_id", req.FounderID),
			zap.String("reference", req.Reference),
			zap.String("bank_tx", a.receipt.TransactionID),
			zap.Error(err))
		return c.reject(ctx, a, err)
	}
	a.committed = true

	a.enter(StateBlockchainRecording)
	c.buildRecords(a)
	c.recordOnChain(ctx, a)

	c.persist(ctx, a)
	return c.complete(ctx, a), nil
}

func (c *Coordinator) validate(a *attempt) error {
	req := a.req
	if strings.TrimSpace(req.FounderID) == "" {
		return ledger.NewError(ledger.ErrValidation, "", "founder id is required")
	}
	if !req.Type.Valid() {
		return ledger.NewError(ledger.ErrValidation, req.FounderID,
			"withdrawal type must be personal, reinvestment or both").With("type", string(req.Type))
	}
	a.personal, a.reinvestment = req.legs()
	if a.personal < 0 || a.reinvestment < 0 || a.personal+a.reinvestment <= 0 {
		return ledger.NewError(ledger.ErrValidation, req.FounderID, "amount must be positive")
	}
	if req.Type == ledger.Both && (req.Personal == 0) != (req.Reinvestment == 0) {
		return ledger.NewError(ledger.ErrValidation, req.FounderID,
			"both personal and reinvestment amounts are required")
	}
	f, err := c.ledger.Founder(req.FounderID)
	if err != nil {
		return err
	}
	a.founder = f
	return nil
}

// checkReference claims the request reference. The bank treats it as an
// idempotency key and hands back the original receipt on reuse, so a
// reference that is in flight or already completed is refused. The store is
// consulted for references completed before a restart.
func (c *Coordinator) checkReference(ctx context.Context, a *attempt) error {
	ref := a.req.Reference
	dup := func() error {
		return ledger.NewError(ledger.ErrValidation, a.req.FounderID,
			"reference %s has already been used", ref).With("reference", ref)
	}

	c.refMu.Lock()
	if _, taken := c.refs[ref]; taken {
		c.refMu.Unlock()
		return dup()
	}
	c.refs[ref] = a.req.FounderID
	c.refMu.Unlock()
	a.claimed = true

	used, err := c.referenceCompleted(ctx, ref)
	if err != nil {
		return fmt.Errorf("look up reference %s: %w", ref, err)
	}
	if used {
		return dup()
	}
	return nil
}

// referenceCompleted reports whether any founder has a completed record
// carrying ref.
func (c *Coordinator) referenceCompleted(ctx context.Context, ref string) (bool, error) {
	for _, f := range c.ledger.Founders() {
		ws, err := c.store.Withdrawals(ctx, f.ID)
		if err != nil {
			return false, err
		}
		for _, w := range ws {
			if w.Reference == ref && w.Status == StatusCompleted {
				return true, nil
			}
		}
		rs, err := c.store.Reinvestments(ctx, f.ID)
		if err != nil {
			return false, err
		}
		for _, r := range rs {
			if r.Reference == ref && r.Status == StatusCompleted {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Coordinator) releaseReference(a *attempt) {
	if !a.claimed || a.committed {
		return
	}
	c.refMu.Lock()
	defer c.refMu.Unlock()
	if c.refs[a.req.Reference] == a.req.FounderID {
		delete(c.refs, a.req.Reference)
	}
	a.claimed = false
}

func (c *Coordinator) checkCompliance(ctx context.Context, a *attempt) error {
	st, err := c.compliance.CheckCompliance(ctx, a.req.FounderID)
	if err != nil {
		return err
	}
	if st.Compliant {
		return nil
	}
	le := ledger.NewError(ledger.ErrCompliance, a.req.FounderID, "%s", st.Reason)
	for k, v := range st.Details {
		le.With(k, v)
	}
	c.notify(ctx, Event{
		Kind:      EventComplianceRejected,
		FounderID: a.founder.ID,
		Name:      a.founder.Name,
		Email:     a.founder.Email,
		Reference: a.req.Reference,
		Reason:    st.Reason,
	})
	return le
}

func (c *Coordinator) checkPolicy(a *attempt) error {
	p, ok := c.policies[a.req.FounderID]
	if !ok {
		return nil
	}
	return p.check(a.req.FounderID, a.personal+a.reinvestment, a.req.ApprovedBy)
}

func (c *Coordinator) checkRemaining(a *attempt) error {
	rem, err := c.ledger.ReserveSnapshot(a.req.FounderID)
	if err != nil {
		return err
	}
	if a.personal > rem.Personal {
		return ledger.NewError(ledger.ErrInsufficientAllocation, a.req.FounderID,
			"personal amount %d exceeds remaining %d", a.personal, rem.Personal).
			With("type", string(ledger.Personal)).
			With("requested", a.personal).
			With("remaining", rem.Personal)
	}
	if a.reinvestment > rem.Reinvestment {
		return ledger.NewError(ledger.ErrInsufficientAllocation, a.req.FounderID,
			"reinvestment amount %d exceeds remaining %d", a.reinvestment, rem.Reinvestment).
			With("type", string(ledger.Reinvestment)).
			With("requested", a.reinvestment).
			With("remaining", rem.Reinvestment)
	}
	return nil
}

func (c *Coordinator) checkSplit(a *attempt) error {
	if a.req.Type != ledger.Both {
		return nil
	}
	if !WithinSplitTolerance(a.personal, a.reinvestment) {
		ratio := float64(a.personal) / float64(a.personal+a.reinvestment)
		return ledger.NewError(ledger.ErrSplitViolation, a.req.FounderID,
			"personal share %.4f is outside 0.40 ± %.2f", ratio, SplitTolerance).
			With("personal", a.personal).
			With("reinvestment", a.reinvestment).
			With("ratio", ratio)
	}
	return nil
}

// prepareLegs validates everything the external steps need so that a
// malformed leg never follows a completed bank transfer.
func (c *Coordinator) prepareLegs(a *attempt) error {
	if a.reinvestment > 0 {
		if len(a.req.Projects) == 0 {
			return ledger.NewError(ledger.ErrValidation, a.req.FounderID,
				"reinvestment requires at least one project")
		}
		seen := make(map[string]bool, len(a.req.Projects))
		for _, id := range a.req.Projects {
			if _, ok := c.projectIdx[id]; !ok {
				return ledger.NewError(ledger.ErrValidation, a.req.FounderID, "unknown project %q", id)
			}
			if seen[id] {
				return ledger.NewError(ledger.ErrValidation, a.req.FounderID, "project %q selected twice", id)
			}
			seen[id] = true
		}
		a.allocations = DivideAmongProjects(a.reinvestment, a.req.Projects)
	}
	if c.needsBank(a) {
		acct, err := c.verifiedAccount(a)
		if err != nil {
			return err
		}
		a.account = acct
	}
	return nil
}

func (c *Coordinator) needsBank(a *attempt) bool {
	return a.personal > 0 && !a.founder.SkipBankTransfer
}

func (c *Coordinator) verifiedAccount(a *attempt) (ledger.BankAccount, error) {
	if a.req.BankAccountID != "" {
		acct, ok := a.founder.Account(a.req.BankAccountID)
		if !ok {
			return ledger.BankAccount{}, ledger.NewError(ledger.ErrValidation, a.req.FounderID,
				"bank account %s not found", a.req.BankAccountID)
		}
		if !acct.Verified {
			return ledger.BankAccount{}, ledger.NewError(ledger.ErrValidation, a.req.FounderID,
				"bank account %s is not verified", acct.ID)
		}
		return acct, nil
	}
	for _, acct := range a.founder.BankAccounts {
		if acct.Verified {
			return acct, nil
		}
	}
	return ledger.BankAccount{}, ledger.NewError(ledger.ErrValidation, a.req.FounderID,
		"a verified bank account is required for personal withdrawals")
}

// transfer makes the only fatal external call. A timeout counts as failure.
func (c *Coordinator) transfer(ctx context.Context, a *attempt) StepResult {
	fiat := rails.Convert(a.personal, c.tokenValueUSD, a.quote)
	tctx, cancel := context.WithTimeout(ctx, c.bankTimeout)
	defer cancel()

	started := time.Now()
	receipt, err := c.bank.Transfer(tctx, a.account, fiat.ZARMoney(), a.req.Reference)
	if err == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		// a receipt that arrives after the deadline is not trusted
		err = fmt.Errorf("bank answered after the %s timeout: %w", c.bankTimeout, tctx.Err())
	}
	if err == nil && !receipt.Success {
		err = errors.New("bank reported the transfer as unsuccessful")
	}
	c.metrics.External("bank", started, err)
	if err != nil {
		return fatal(StateBankTransferPending, ledger.NewError(ledger.ErrBankTransfer, a.req.FounderID,
			"bank transfer failed").With("reference", a.req.Reference).Wrap(err))
	}
	a.receipt = receipt
	return succeeded(StateBankTransferPending)
}

func (c *Coordinator) recordFailedTransfer(ctx context.Context, a *attempt, cause error) {
	fiat := rails.Convert(a.personal, c.tokenValueUSD, a.quote)
	w := Withdrawal{
		ID:            uuid.New().String(),
		FounderID:     a.req.FounderID,
		Amount:        a.personal,
		FiatUSD:       fiat.USD,
		FiatZAR:       fiat.ZAR,
		Rate:          fiat.Rate,
		BankAccountID: a.account.ID,
		Status:        StatusFailed,
		Warning:       cause.Error(),
		Reference:     a.req.Reference,
		CreatedAt:     c.now().UTC(),
	}
	if err := c.store.SaveFailedWithdrawal(context.WithoutCancel(ctx), w); err != nil {
		c.logger.Error("failed to persist failed withdrawal", zap.String("founder_id", w.FounderID), zap.Error(err))
	}
	c.appendAudit(ctx, audit.ActionBankTransferFailed, a.req.FounderID, map[string]any{
		"reference": a.req.Reference,
		"amount":    a.personal,
		"error":     cause.Error(),
	})
}

func (c *Coordinator) commit(a *attempt) error {
	var legs []ledger.Leg
	if a.personal > 0 {
		legs = append(legs, ledger.Leg{Type: ledger.Personal, Amount: a.personal})
	}
	if a.reinvestment > 0 {
		legs = append(legs, ledger.Leg{Type: ledger.Reinvestment, Amount: a.reinvestment})
	}
	if err := c.ledger.CommitLegs(a.req.FounderID, legs...); err != nil {
		return err
	}
	for _, leg := range legs {
		c.metrics.Committed(string(leg.Type), leg.Amount)
	}
	c.metrics.Circulating(c.ledger.Totals().Circulating)
	return nil
}

func (c *Coordinator) buildRecords(a *attempt) {
	now := c.now().UTC()
	if a.personal > 0 {
		fiat := rails.Convert(a.personal, c.tokenValueUSD, a.quote)
		a.result.Withdrawal = &Withdrawal{
			ID:                uuid.New().String(),
			FounderID:         a.req.FounderID,
			Amount:            a.personal,
			FiatUSD:           fiat.USD,
			FiatZAR:           fiat.ZAR,
			Rate:              fiat.Rate,
			BankAccountID:     a.account.ID,
			BankTransactionID: a.receipt.TransactionID,
			Status:            StatusCompleted,
			Reference:         a.req.Reference,
			CreatedAt:         now,
		}
	}
	if a.reinvestment > 0 {
		fiat := rails.Convert(a.reinvestment, c.tokenValueUSD, a.quote)
		a.result.Reinvestment = &Reinvestment{
			ID:        uuid.New().String(),
			FounderID: a.req.FounderID,
			Amount:    a.reinvestment,
			FiatUSD:   fiat.USD,
			FiatZAR:   fiat.ZAR,
			Rate:      fiat.Rate,
			Projects:  a.allocations,
			Status:    StatusCompleted,
			Reference: a.req.Reference,
			CreatedAt: now,
		}
	}
}

// recordOnChain mirrors each committed leg. Failures are non-fatal.
func (c *Coordinator) recordOnChain(ctx context.Context, a *attempt) {
	if w := a.result.Withdrawal; w != nil {
		tx, step := c.mirror(ctx, a, ledger.Personal, w.Amount, map[string]any{
			"withdrawalId":      w.ID,
			"bankTransactionId": w.BankTransactionID,
			"reference":         w.Reference,
		})
		if step.Failed() {
			w.Warning = WarnBlockchain
		}
		w.BlockchainTx = tx
	}
	if r := a.result.Reinvestment; r != nil {
		tx, step := c.mirror(ctx, a, ledger.Reinvestment, r.Amount, map[string]any{
			"reinvestmentId": r.ID,
			"projects":       r.Projects,
			"reference":      r.Reference,
		})
		if step.Failed() {
			r.Warning = WarnBlockchain
		}
		r.BlockchainTx = tx
	}
}

func (c *Coordinator) mirror(ctx context.Context, a *attempt, typ ledger.WithdrawalType, amount int64, meta map[string]any) (*string, StepResult) {
	tctx, cancel := context.WithTimeout(ctx, c.chainTimeout)
	defer cancel()

	started := time.Now()
	rec, err := c.chain.Record(tctx, a.req.FounderID, amount, string(typ), meta)
	c.metrics.External("blockchain", started, err)
	if err != nil {
		berr := ledger.NewError(ledger.ErrBlockchainRecording, a.req.FounderID,
			"%s leg not recorded on chain", typ).Wrap(err)
		c.logger.Warn("blockchain recording failed",
			zap.String("founder_id", a.req.FounderID),
			zap.String("reference", a.req.Reference),
			zap.String("type", string(typ)),
			zap.Error(err))
		c.appendAudit(ctx, audit.ActionBlockchainFailed, a.req.FounderID, map[string]any{
			"reference": a.req.Reference,
			"type":      typ,
			"amount":    amount,
			"error":     err.Error(),
		})
		c.addWarning(a, WarnBlockchain)
		return nil, nonFatal(StateBlockchainRecording, berr)
	}
	tx := rec.TransactionID
	return &tx, succeeded(StateBlockchainRecording)
}

func (c *Coordinator) persist(ctx context.Context, a *attempt) {
	f, err := c.ledger.Founder(a.req.FounderID)
	if err != nil {
		c.logger.Error("founder vanished after commit", zap.String("founder_id", a.req.FounderID), zap.Error(err))
		return
	}
	err = c.store.SaveCompletion(ctx, Completion{
		Founder:      f,
		Totals:       c.ledger.Totals(),
		Withdrawal:   a.result.Withdrawal,
		Reinvestment: a.result.Reinvestment,
	})
	if err != nil {
		c.logger.Error("failed to persist completed withdrawal",
			zap.String("founder_id", a.req.FounderID),
			zap.String("reference", a.req.Reference),
			zap.Error(err))
		c.addWarning(a, WarnPersistence)
	}
}

func (c *Coordinator) complete(ctx context.Context, a *attempt) Result {
	a.enter(StateCompleted)
	if rem, err := c.ledger.ReserveSnapshot(a.req.FounderID); err == nil {
		a.result.Remaining = rem
	}

	var fiatZAR decimal.Decimal
	var bankTx string
	var chainTx []string
	if w := a.result.Withdrawal; w != nil {
		fiatZAR = w.FiatZAR
		bankTx = w.BankTransactionID
		if w.BlockchainTx != nil {
			chainTx = append(chainTx, *w.BlockchainTx)
		}
	}
	if r := a.result.Reinvestment; r != nil && r.BlockchainTx != nil {
		chainTx = append(chainTx, *r.BlockchainTx)
	}
	c.appendAudit(ctx, audit.ActionWithdrawalCompleted, a.req.FounderID, map[string]any{
		"reference":     a.req.Reference,
		"type":          a.req.Type,
		"personal":      a.personal,
		"reinvestment":  a.reinvestment,
		"projects":      a.allocations,
		"fiat_zar":      fiatZAR.StringFixed(2),
		"rate":          a.quote.Rate.String(),
		"bank_tx":       bankTx,
		"blockchain_tx": chainTx,
		"warning":       a.result.Warning,
	})

	outcome := "completed"
	if a.result.Warning != "" {
		outcome = "completed_with_warning"
	}
	c.metrics.Outcome(string(a.req.Type), outcome)

	c.notify(ctx, Event{
		Kind:         EventCompleted,
		FounderID:    a.founder.ID,
		Name:         a.founder.Name,
		Email:        a.founder.Email,
		Reference:    a.req.Reference,
		Type:         string(a.req.Type),
		Personal:     a.personal,
		Reinvestment: a.reinvestment,
		FiatZAR:      fiatZAR.StringFixed(2),
	})
	if strings.Contains(a.result.Warning, WarnBlockchain) {
		c.notify(ctx, Event{
			Kind:      EventBlockchainWarning,
			FounderID: a.founder.ID,
			Name:      a.founder.Name,
			Reference: a.req.Reference,
			Warning:   a.result.Warning,
		})
	}
	c.logger.Info("withdrawal completed",
		zap.String("founder_id", a.req.FounderID),
		zap.String("reference", a.req.Reference),
		zap.String("type", string(a.req.Type)),
		zap.Int64("personal", a.personal),
		zap.Int64("reinvestment", a.reinvestment),
		zap.String("warning", a.result.Warning))
	return a.result
}

func (c *Coordinator) reject(ctx context.Context, a *attempt, err error) (Result, error) {
	c.releaseReference(a)
	a.enter(StateRejected)
	a.result.Reason = err.Error()
	if rem, serr := c.ledger.ReserveSnapshot(a.req.FounderID); serr == nil {
		a.result.Remaining = rem
	}

	payload := map[string]any{
		"reference":    a.req.Reference,
		"type":         a.req.Type,
		"personal":     a.personal,
		"reinvestment": a.reinvestment,
		"reason":       err.Error(),
	}
	if kind := ledger.KindOf(err); kind != nil {
		payload["kind"] = kind.Error()
	}
	c.appendAudit(ctx, audit.ActionWithdrawalRejected, a.req.FounderID, payload)
	c.metrics.Outcome(string(a.req.Type), "rejected")
	c.logger.Info("withdrawal rejected",
		zap.String("founder_id", a.req.FounderID),
		zap.String("reference", a.req.Reference),
		zap.Error(err))
	return a.result, err
}

func (c *Coordinator) addWarning(a *attempt, w string) {
	if strings.Contains(a.result.Warning, w) {
		return
	}
	if a.result.Warning == "" {
		a.result.Warning = w
		return
	}
	a.result.Warning = fmt.Sprintf("%s; %s", a.result.Warning, w)
}

func (c *Coordinator) appendAudit(ctx context.Context, action, founderID string, payload any) {
	if _, err := c.audit.Append(context.WithoutCancel(ctx), action, founderID, payload); err != nil {
		c.logger.Error("audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func (c *Coordinator) notify(ctx context.Context, e Event) {
	if err := c.notifier.Notify(ctx, e); err != nil {
		c.logger.Warn("notification failed",
			zap.String("kind", e.Kind), zap.String("founder_id", e.FounderID), zap.Error(err))
	}
}
