package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/compliance"
	"github.com/sudo-init-do/founderledger/internal/ledger"
	"github.com/sudo-init-do/founderledger/internal/rails"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type bankCall struct {
	account   string
	amount    *money.Money
	reference string
}

type fakeBank struct {
	mu           sync.Mutex
	calls        []bankCall
	err          error
	unsuccessful bool
	delay        time.Duration
	holds        map[string]chan struct{}
	entered      chan string
}

func (b *fakeBank) Transfer(ctx context.Context, acct ledger.BankAccount, amount *money.Money, ref string) (rails.Receipt, error) {
	b.mu.Lock()
	b.calls = append(b.calls, bankCall{account: acct.ID, amount: amount, reference: ref})
	hold := b.holds[acct.ID]
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return rails.Receipt{}, err
	}

	if b.entered != nil {
		b.entered <- acct.ID
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return rails.Receipt{}, ctx.Err()
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.err != nil {
		return rails.Receipt{}, b.err
	}
	return rails.Receipt{Success: !b.unsuccessful, TransactionID: "BANK-" + ref, Timestamp: time.Now()}, nil
}

func (b *fakeBank) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type fakeChain struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeChain) Record(_ context.Context, _ string, _ int64, typ string, _ map[string]any) (rails.ChainReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return rails.ChainReceipt{}, c.err
	}
	return rails.ChainReceipt{TransactionID: "0x" + typ}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *fakeNotifier) Notify(_ context.Context, e Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

var testConstitution = compliance.Constitution{Version: "2.1.0", Hash: "c0ffee"}

type fixture struct {
	ledger   *ledger.Ledger
	gate     *compliance.Gate
	bank     *fakeBank
	chain    *fakeChain
	store    *MemoryStore
	audit    *audit.Log
	notifier *fakeNotifier
	coord    *Coordinator
	now      time.Time
}

func newFixture(t *testing.T, tweak ...func(*Options)) *fixture {
	t.Helper()
	fx := &fixture{
		bank:     &fakeBank{},
		chain:    &fakeChain{},
		store:    NewMemoryStore(),
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return fx.now }

	l, err := ledger.New(ledger.Options{Now: clock})
	require.NoError(t, err)
	fx.ledger = l
	fx.gate = compliance.NewGate(l, compliance.Options{Constitution: testConstitution, Now: clock})
	fx.audit = audit.New(nil, nil).WithClock(clock)

	opts := Options{
		Bank:     fx.bank,
		Chain:    fx.chain,
		Rates:    rails.NewStaticRates(nil),
		Store:    fx.store,
		Audit:    fx.audit,
		Notifier: fx.notifier,
		Now:      clock,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	fx.coord, err = NewCoordinator(l, fx.gate, opts)
	require.NoError(t, err)
	return fx
}

// addFounder registers a founder and makes it compliant.
func (fx *fixture) addFounder(t *testing.T, spec ledger.FounderSpec) ledger.Founder {
	t.Helper()
	ctx := context.Background()
	f, err := fx.coord.RegisterFounder(ctx, spec)
	require.NoError(t, err)
	_, err = fx.gate.Attest(ctx, f.ID, testConstitution.Hash)
	require.NoError(t, err)
	_, err = fx.gate.RecordFicaVerification(ctx, f.ID, compliance.FicaResult{Verified: true})
	require.NoError(t, err)
	return f
}

func (fx *fixture) founder(t *testing.T, id string) ledger.Founder {
	t.Helper()
	f, err := fx.ledger.Founder(id)
	require.NoError(t, err)
	return f
}

func sizwe() ledger.FounderSpec {
	return ledger.FounderSpec{
		ID:    "1",
		Name:  "Sizwe Ngwenya",
		Email: "sizwe@azora.world",
		Role:  "CEO",
		Total: 100000,
		BankAccounts: []ledger.BankAccount{
			{ID: "fnb", Bank: "FNB", AccountNumber: "62000000001", Verified: true},
			{ID: "pending", Bank: "Capitec", AccountNumber: "1400000002"},
		},
	}
}

func TestScenarioAFullPersonalWithdrawal(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())

	res, err := fx.coord.Withdraw(context.Background(), Request{
		FounderID: "1", Type: ledger.Personal, Amount: 40000, BankAccountID: "fnb",
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []State{
		StateRequested, StateComplianceChecked, StateSplitValidated,
		StateBankTransferPending, StateBlockchainRecording, StateCompleted,
	}, res.Trace)
	assert.Equal(t, int64(0), res.Remaining.Personal)
	assert.Empty(t, res.Warning)

	require.NotNil(t, res.Withdrawal)
	assert.Equal(t, StatusCompleted, res.Withdrawal.Status)
	assert.Equal(t, "7400000.00", res.Withdrawal.FiatZAR.StringFixed(2))
	require.NotNil(t, res.Withdrawal.BlockchainTx)
	assert.Equal(t, "0xpersonal", *res.Withdrawal.BlockchainTx)
	assert.Nil(t, res.Reinvestment)

	require.Equal(t, 1, fx.bank.count())
	call := fx.bank.calls[0]
	assert.Equal(t, "fnb", call.account)
	assert.Equal(t, int64(740000000), call.amount.Amount())
	assert.Equal(t, res.Reference, call.reference)

	f := fx.founder(t, "1")
	assert.Equal(t, int64(40000), f.Withdrawn.Personal)
	assert.Equal(t, int64(40000), fx.ledger.Totals().Circulating)
	require.NoError(t, fx.ledger.CheckInvariants())

	history, err := fx.coord.Withdrawals(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Contains(t, fx.notifier.kinds(), EventCompleted)
}

func TestScenarioBOneMoreTokenIsRejected(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	ctx := context.Background()

	_, err := fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 40000})
	require.NoError(t, err)
	before := fx.founder(t, "1")
	totals := fx.ledger.Totals()

	res, err := fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 1})
	require.ErrorIs(t, err, ledger.ErrInsufficientAllocation)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, before, fx.founder(t, "1"))
	assert.Equal(t, totals, fx.ledger.Totals())
	assert.Equal(t, 1, fx.bank.count())
}

func TestScenarioCStaleAttestationNeverReachesBank(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	fx.now = fx.now.Add(91 * 24 * time.Hour)

	for _, req := range []Request{
		{FounderID: "1", Type: ledger.Personal, Amount: 100},
		{FounderID: "1", Type: ledger.Both, Amount: 1000, Projects: []string{"education"}},
	} {
		res, err := fx.coord.Withdraw(context.Background(), req)
		require.ErrorIs(t, err, ledger.ErrCompliance)
		assert.Equal(t, StateRejected, res.State)
		assert.Contains(t, res.Reason, "attestation")
	}
	assert.Equal(t, 0, fx.bank.count())
	assert.Equal(t, 0, fx.chain.calls)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "1").Withdrawn)
	assert.Contains(t, fx.notifier.kinds(), EventComplianceRejected)
}

func TestScenarioDProjectDivision(t *testing.T) {
	got := DivideAmongProjects(61, []string{"a", "b", "c"})
	assert.Equal(t, []ProjectAllocation{{"a", 21}, {"b", 20}, {"c", 20}}, got)

	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	res, err := fx.coord.Withdraw(context.Background(), Request{
		FounderID: "1",
		Type:      ledger.Reinvestment,
		Amount:    61,
		Projects:  []string{"ai-development", "education", "infrastructure"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Reinvestment)

	var sum int64
	for _, p := range res.Reinvestment.Projects {
		sum += p.Amount
	}
	assert.Equal(t, int64(61), sum)
	assert.Equal(t, int64(21), res.Reinvestment.Projects[0].Amount)
	assert.Equal(t, 0, fx.bank.count(), "reinvestment never pays out to a bank")
	assert.NotContains(t, res.Trace, StateBankTransferPending)
}

func TestScenarioEBankFailureLeavesLedgerUntouched(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	fx.bank.err = errors.New("connection reset by peer")
	before := fx.founder(t, "1")
	totals := fx.ledger.Totals()

	res, err := fx.coord.Withdraw(context.Background(), Request{
		FounderID: "1", Type: ledger.Both, Personal: 400, Reinvestment: 600, Projects: []string{"education"},
	})
	require.ErrorIs(t, err, ledger.ErrBankTransfer)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, before, fx.founder(t, "1"))
	assert.Equal(t, totals, fx.ledger.Totals())
	assert.Equal(t, 0, fx.chain.calls)

	history, err := fx.coord.Withdrawals(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
	reinv, err := fx.coord.Reinvestments(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, reinv)
}

func TestUnsuccessfulReceiptIsAFailure(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	fx.bank.unsuccessful = true

	_, err := fx.coord.Withdraw(context.Background(), Request{FounderID: "1", Type: ledger.Personal, Amount: 10})
	require.ErrorIs(t, err, ledger.ErrBankTransfer)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "1").Withdrawn)
}

func TestScenarioFBlockchainFailureIsAWarning(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	fx.chain.err = errors.New("node unreachable")

	res, err := fx.coord.Withdraw(context.Background(), Request{
		FounderID: "1", Type: ledger.Both, Amount: 1000, Projects: []string{"education", "startup-fund"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, WarnBlockchain, res.Warning)
	require.NotNil(t, res.Withdrawal)
	require.NotNil(t, res.Reinvestment)
	assert.Nil(t, res.Withdrawal.BlockchainTx)
	assert.Nil(t, res.Reinvestment.BlockchainTx)

	f := fx.founder(t, "1")
	assert.Equal(t, ledger.Withdrawn{Personal: 400, Reinvestment: 600}, f.Withdrawn)
	assert.Equal(t, int64(1000), fx.ledger.Totals().Circulating)
	assert.Contains(t, fx.notifier.kinds(), EventBlockchainWarning)

	var failed int
	for _, e := range fx.audit.ForFounder("1") {
		if e.Action == audit.ActionBlockchainFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestConcurrentRequestsCannotDoubleSpend(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	fx.bank.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.coord.Withdraw(context.Background(), Request{
				FounderID: "1", Type: ledger.Personal, Amount: 30000,
			})
		}(i)
	}
	wg.Wait()

	var completed, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ledger.ErrInsufficientAllocation):
			insufficient++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 1, fx.bank.count())
	assert.Equal(t, int64(30000), fx.founder(t, "1").Withdrawn.Personal)
	require.NoError(t, fx.ledger.CheckInvariants())
}

func TestDifferentFoundersProceedInParallel(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	other := ledger.FounderSpec{
		ID: "2", Name: "Thabo", Total: 50000,
		BankAccounts: []ledger.BankAccount{{ID: "absa", Verified: true}},
	}
	fx.addFounder(t, other)

	hold := make(chan struct{})
	fx.bank.holds = map[string]chan struct{}{"fnb": hold}
	fx.bank.entered = make(chan string, 4)

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Withdraw(context.Background(), Request{FounderID: "1", Type: ledger.Personal, Amount: 100})
		done <- err
	}()
	require.Equal(t, "fnb", <-fx.bank.entered)

	// founder 1 is mid-transfer; founder 2 must not wait for it
	_, err := fx.coord.Withdraw(context.Background(), Request{FounderID: "2", Type: ledger.Personal, Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, "absa", <-fx.bank.entered)

	close(hold)
	require.NoError(t, <-done)
}

func TestBankTimeoutAborts(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.BankTimeout = 20 * time.Millisecond })
	fx.addFounder(t, sizwe())
	fx.bank.holds = map[string]chan struct{}{"fnb": make(chan struct{})}

	_, err := fx.coord.Withdraw(context.Background(), Request{FounderID: "1", Type: ledger.Personal, Amount: 100})
	require.ErrorIs(t, err, ledger.ErrBankTransfer)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "1").Withdrawn)
}

func TestRejectionsBeforeAnyExternalCall(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())

	cases := []struct {
		name string
		req  Request
		kind error
	}{
		{"bad type", Request{FounderID: "1", Type: "bonus", Amount: 10}, ledger.ErrValidation},
		{"zero amount", Request{FounderID: "1", Type: ledger.Personal}, ledger.ErrValidation},
		{"unknown founder", Request{FounderID: "9", Type: ledger.Personal, Amount: 10}, ledger.ErrNotFound},
		{"split drift", Request{FounderID: "1", Type: ledger.Both, Personal: 500, Reinvestment: 500, Projects: []string{"education"}}, ledger.ErrSplitViolation},
		{"one leg of both", Request{FounderID: "1", Type: ledger.Both, Personal: 400}, ledger.ErrValidation},
		{"no projects", Request{FounderID: "1", Type: ledger.Reinvestment, Amount: 100}, ledger.ErrValidation},
		{"unknown project", Request{FounderID: "1", Type: ledger.Reinvestment, Amount: 100, Projects: []string{"yacht"}}, ledger.ErrValidation},
		{"duplicate project", Request{FounderID: "1", Type: ledger.Reinvestment, Amount: 100, Projects: []string{"education", "education"}}, ledger.ErrValidation},
		{"unverified account", Request{FounderID: "1", Type: ledger.Personal, Amount: 10, BankAccountID: "pending"}, ledger.ErrValidation},
		{"missing account", Request{FounderID: "1", Type: ledger.Personal, Amount: 10, BankAccountID: "nope"}, ledger.ErrValidation},
		{"over remaining", Request{FounderID: "1", Type: ledger.Reinvestment, Amount: 60001, Projects: []string{"education"}}, ledger.ErrInsufficientAllocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := fx.coord.Withdraw(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.kind)
			assert.Equal(t, StateRejected, res.State)
		})
	}
	assert.Equal(t, 0, fx.bank.count())
	assert.Equal(t, 0, fx.chain.calls)
	require.NoError(t, fx.audit.Verify())
}

func TestSplitWithinTolerance(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())

	// 0.405 is inside the 1% band
	_, err := fx.coord.Withdraw(context.Background(), Request{
		FounderID: "1", Type: ledger.Both, Personal: 405, Reinvestment: 595, Projects: []string{"education"},
	})
	require.NoError(t, err)

	assert.True(t, WithinSplitTolerance(41, 59))
	assert.True(t, WithinSplitTolerance(39, 61))
	assert.False(t, WithinSplitTolerance(42, 58))
	assert.False(t, WithinSplitTolerance(0, 0))
}

func TestFounderWithoutBankLeg(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, ledger.FounderSpec{ID: "ai", Name: "Azora AI", Total: 1000, SkipBankTransfer: true})

	res, err := fx.coord.Withdraw(context.Background(), Request{FounderID: "ai", Type: ledger.Personal, Amount: 400})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, fx.bank.count())
	assert.Equal(t, int64(400), fx.founder(t, "ai").Withdrawn.Personal)
}

func TestPolicyException(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.Policies = []PolicyException{{FounderID: "1", MaxAmount: 1000, RequiresApproval: true}}
	})
	fx.addFounder(t, sizwe())
	ctx := context.Background()

	_, err := fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 1001, ApprovedBy: "board"})
	require.ErrorIs(t, err, ledger.ErrValidation)
	var le *ledger.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "max_amount", le.Details["policy"])

	_, err = fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 500})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 500, ApprovedBy: "board"})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.bank.count())
}

func TestAuditTrailCoversEveryTransition(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	ctx := context.Background()

	_, err := fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 10})
	require.NoError(t, err)
	_, err = fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 1_000_000})
	require.Error(t, err)

	var actions []string
	for _, e := range fx.audit.ForFounder("1") {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		audit.ActionFounderRegistered,
		audit.ActionWithdrawalRequested,
		audit.ActionWithdrawalCompleted,
		audit.ActionWithdrawalRequested,
		audit.ActionWithdrawalRejected,
	}, actions)
	require.NoError(t, fx.audit.Verify())
}

func TestCancelledRequestBeforeBankCommitsNothing(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.coord.Withdraw(ctx, Request{FounderID: "1", Type: ledger.Personal, Amount: 10})
	require.Error(t, err)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "1").Withdrawn)
}

func TestReusedReferenceNeverCommitsTwice(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.Bank = rails.NewSimulatedBank() })
	fx.addFounder(t, sizwe())
	second := sizwe()
	second.ID = "2"
	fx.addFounder(t, second)
	ctx := context.Background()
	req := Request{FounderID: "1", Type: ledger.Personal, Amount: 10000, Reference: "client-ref-1"}

	first, err := fx.coord.Withdraw(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.Withdrawal)

	res, err := fx.coord.Withdraw(ctx, req)
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, int64(10000), fx.founder(t, "1").Withdrawn.Personal)

	req.FounderID = "2"
	_, err = fx.coord.Withdraw(ctx, req)
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "2").Withdrawn)

	history, err := fx.coord.Withdrawals(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	require.NoError(t, fx.ledger.CheckInvariants())
}

func TestReferenceFromStoreIsRefusedAfterRestart(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	second := sizwe()
	second.ID = "2"
	fx.addFounder(t, second)
	ctx := context.Background()
	req := Request{FounderID: "1", Type: ledger.Both, Amount: 1000, Projects: []string{"education"}, Reference: "ref-7"}

	_, err := fx.coord.Withdraw(ctx, req)
	require.NoError(t, err)
	calls := fx.bank.count()

	restarted, err := NewCoordinator(fx.ledger, fx.gate, Options{
		Bank: fx.bank, Chain: fx.chain, Rates: rails.NewStaticRates(nil), Store: fx.store,
	})
	require.NoError(t, err)
	_, err = restarted.Withdraw(ctx, req)
	require.ErrorIs(t, err, ledger.ErrValidation)
	req.FounderID = "2"
	_, err = restarted.Withdraw(ctx, req)
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, calls, fx.bank.count())
	assert.Equal(t, ledger.Withdrawn{Personal: 400, Reinvestment: 600}, fx.founder(t, "1").Withdrawn)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "2").Withdrawn)
}

func TestReferenceIsReusableAfterBankFailure(t *testing.T) {
	fx := newFixture(t)
	fx.addFounder(t, sizwe())
	ctx := context.Background()
	req := Request{FounderID: "1", Type: ledger.Personal, Amount: 500, Reference: "retry-me"}

	fx.bank.err = errors.New("gateway unavailable")
	_, err := fx.coord.Withdraw(ctx, req)
	require.ErrorIs(t, err, ledger.ErrBankTransfer)

	fx.bank.err = nil
	res, err := fx.coord.Withdraw(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "BANK-retry-me", res.Withdrawal.BankTransactionID)
	assert.Equal(t, int64(500), fx.founder(t, "1").Withdrawn.Personal)
}

func TestLateBankReceiptCountsAsTimeout(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.BankTimeout = 10 * time.Millisecond })
	fx.addFounder(t, sizwe())
	// the delay ignores ctx, like an adapter that never checks it
	fx.bank.delay = 60 * time.Millisecond

	_, err := fx.coord.Withdraw(context.Background(), Request{FounderID: "1", Type: ledger.Personal, Amount: 100})
	require.ErrorIs(t, err, ledger.ErrBankTransfer)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ledger.Withdrawn{}, fx.founder(t, "1").Withdrawn)

	history, err := fx.coord.Withdrawals(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
}
