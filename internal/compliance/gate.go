package compliance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// DefaultAttestationWindow is how long a constitution attestation stays valid.
const DefaultAttestationWindow = 90 * 24 * time.Hour

// Rejection reasons, in evaluation order.
const (
	ReasonNoRecord          = "no compliance record found"
	ReasonAttestation       = "constitution attestation has expired (required every 90 days)"
	ReasonFica              = "FICA compliance not verified"
	ReasonViolations        = "previous withdrawal violations must be addressed"
	ReasonFounderSuspended  = "founder is suspended"
	ficaStatusVerified      = "verified"
	ficaStatusFailed        = "failed"
	defaultViolationMessage = "unspecified violation"
)

// Constitution is the currently published constitution founders attest to.
type Constitution struct {
	Version     string    `json:"version" yaml:"version"`
	Hash        string    `json:"hash" yaml:"hash"`
	PublishedAt time.Time `json:"published_at" yaml:"publishedAt"`
}

type Violation struct {
	ID         string    `json:"id"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Record is a founder's compliance state.
type Record struct {
	FounderID            string      `json:"founder_id"`
	LastAttestation      time.Time   `json:"last_attestation"`
	ConstitutionVersion  string      `json:"constitution_version"`
	FicaCompliant        bool        `json:"fica_compliant"`
	FicaStatus           string      `json:"fica_status"`
	FicaReference        string      `json:"fica_reference,omitempty"`
	WithdrawalViolations []Violation `json:"withdrawal_violations"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

func (r Record) clone() Record {
	c := r
	c.WithdrawalViolations = append([]Violation(nil), r.WithdrawalViolations...)
	return c
}

// Status is the outcome of CheckCompliance.
type Status struct {
	Compliant bool           `json:"compliant"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// FicaResult is the outcome of an external FICA (AML) verification.
type FicaResult struct {
	Verified  bool   `json:"verified"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// Founders resolves founder existence.
type Founders interface {
	Founder(id string) (ledger.Founder, error)
}

// Store persists compliance records.
type Store interface {
	SaveComplianceRecord(ctx context.Context, r Record) error
}

type Options struct {
	Constitution      Constitution
	AttestationWindow time.Duration
	Store             Store
	Logger            *zap.Logger
	Now               func() time.Time
}

// Gate decides whether a founder may withdraw.
type Gate struct {
	mu           sync.Mutex
	founders     Founders
	records      map[string]*Record
	constitution Constitution
	window       time.Duration
	store        Store
	logger       *zap.Logger
	now          func() time.Time
}

func NewGate(founders Founders, opts Options) *Gate {
	if opts.AttestationWindow <= 0 {
		opts.AttestationWindow = DefaultAttestationWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		founders:     founders,
		records:      make(map[string]*Record),
		constitution: opts.Constitution,
		window:       opts.AttestationWindow,
		store:        opts.Store,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// Restore loads persisted records.
func (g *Gate) Restore(records []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range records {
		rc := r.clone()
		g.records[r.FounderID] = &rc
	}
}

// Constitution returns the published constitution.
func (g *Gate) Constitution() Constitution {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.constitution
}

// Publish replaces the published constitution. Existing attestations keep
// their age; founders must attest to the new hash on their next renewal.
func (g *Gate) Publish(c Constitution) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.constitution = c
}

// Record returns a founder's compliance record.
func (g *Gate) Record(founderID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[founderID]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// ExpiresAt is when the current attestation stops counting.
func (g *Gate) ExpiresAt(r Record) time.Time {
	if r.LastAttestation.IsZero() {
		return time.Time{}
	}
	return r.LastAttestation.Add(g.window)
}

// CheckCompliance evaluates, in order and stopping at the first failure:
// record exists, attestation is fresh, FICA verified, no violations.
func (g *Gate) CheckCompliance(ctx context.Context, founderID string) (Status, error) {
	f, err := g.founders.Founder(founderID)
	if err != nil {
		return Status{}, err
	}

	g.mu.Lock()
	r, ok := g.records[founderID]
	var created Record
	if !ok {
		created = g.newRecordLocked(founderID)
	}
	var snapshot Record
	if ok {
		snapshot = r.clone()
	}
	g.mu.Unlock()

	if !ok {
		g.persist(ctx, created)
		return Status{Compliant: false, Reason: ReasonNoRecord}, nil
	}
	if f.Status == ledger.StatusSuspended {
		return Status{Compliant: false, Reason: ReasonFounderSuspended}, nil
	}
	return g.evaluate(snapshot), nil
}

func (g *Gate) evaluate(r Record) Status {
	now := g.now()
	if r.LastAttestation.IsZero() || now.Sub(r.LastAttestation) > g.window {
		details := map[string]any{"window_days": int(g.window / (24 * time.Hour))}
		if !r.LastAttestation.IsZero() {
			details["last_attestation"] = r.LastAttestation.UTC().Format(time.RFC3339)
		}
		return Status{Compliant: false, Reason: ReasonAttestation, Details: details}
	}
	if !r.FicaCompliant {
		return Status{Compliant: false, Reason: ReasonFica, Details: map[string]any{"fica_status": r.FicaStatus}}
	}
	if len(r.WithdrawalViolations) > 0 {
		return Status{Compliant: false, Reason: ReasonViolations, Details: map[string]any{"violations": r.WithdrawalViolations}}
	}
	return Status{
		Compliant: true,
		Details: map[string]any{
			"last_attestation": r.LastAttestation.UTC().Format(time.RFC3339),
			"fica_status":      r.FicaStatus,
		},
	}
}

// Attest records that the founder accepted the published constitution.
func (g *Gate) Attest(ctx context.Context, founderID, constitutionHash string) (Record, error) {
	if _, err := g.founders.Founder(founderID); err != nil {
		return Record{}, err
	}
	if constitutionHash == "" {
		return Record{}, ledger.NewError(ledger.ErrValidation, founderID, "constitution hash is required")
	}

	g.mu.Lock()
	if constitutionHash != g.constitution.Hash {
		version := g.constitution.Version
		g.mu.Unlock()
		return Record{}, ledger.NewError(ledger.ErrStaleConstitution, founderID,
			"the constitution has been updated, review version %s", version).
			With("current_version", version)
	}
	r := g.recordLocked(founderID)
	r.LastAttestation = g.now().UTC()
	r.ConstitutionVersion = g.constitution.Version
	r.UpdatedAt = r.LastAttestation
	out := r.clone()
	g.mu.Unlock()

	g.persist(ctx, out)
	return out, nil
}

// RecordFicaVerification stores the verification outcome. An unverified
// result revokes FICA compliance and is returned as an error.
func (g *Gate) RecordFicaVerification(ctx context.Context, founderID string, result FicaResult) (Record, error) {
	if _, err := g.founders.Founder(founderID); err != nil {
		return Record{}, err
	}

	g.mu.Lock()
	r := g.recordLocked(founderID)
	r.FicaCompliant = result.Verified
	r.FicaStatus = result.Status
	if r.FicaStatus == "" {
		r.FicaStatus = ficaStatusFailed
		if result.Verified {
			r.FicaStatus = ficaStatusVerified
		}
	}
	r.FicaReference = result.Reference
	r.UpdatedAt = g.now().UTC()
	out := r.clone()
	g.mu.Unlock()

	g.persist(ctx, out)
	if !result.Verified {
		return out, ledger.NewError(ledger.ErrFicaVerificationFailed, founderID,
			"FICA verification failed").With("fica_status", out.FicaStatus)
	}
	return out, nil
}

// RecordViolation blocks withdrawals until the violations are cleared.
func (g *Gate) RecordViolation(ctx context.Context, founderID, reason string) (Record, error) {
	if _, err := g.founders.Founder(founderID); err != nil {
		return Record{}, err
	}
	if reason == "" {
		reason = defaultViolationMessage
	}

	g.mu.Lock()
	r := g.recordLocked(founderID)
	now := g.now().UTC()
	r.WithdrawalViolations = append(r.WithdrawalViolations, Violation{
		ID:         uuid.New().String(),
		Reason:     reason,
		RecordedAt: now,
	})
	r.UpdatedAt = now
	out := r.clone()
	g.mu.Unlock()

	g.persist(ctx, out)
	return out, nil
}

// ClearViolations marks all violations as addressed.
func (g *Gate) ClearViolations(ctx context.Context, founderID string) (Record, error) {
	if _, err := g.founders.Founder(founderID); err != nil {
		return Record{}, err
	}

	g.mu.Lock()
	r := g.recordLocked(founderID)
	r.WithdrawalViolations = nil
	r.UpdatedAt = g.now().UTC()
	out := r.clone()
	g.mu.Unlock()

	g.persist(ctx, out)
	return out, nil
}

func (g *Gate) newRecordLocked(founderID string) Record {
	now := g.now().UTC()
	r := &Record{FounderID: founderID, CreatedAt: now, UpdatedAt: now}
	g.records[founderID] = r
	return r.clone()
}

func (g *Gate) recordLocked(founderID string) *Record {
	if r, ok := g.records[founderID]; ok {
		return r
	}
	g.newRecordLocked(founderID)
	return g.records[founderID]
}

func (g *Gate) persist(ctx context.Context, r Record) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveComplianceRecord(ctx, r); err != nil {
		g.logger.Error("failed to persist compliance record",
			zap.String("founder_id", r.FounderID), zap.Error(err))
	}
}
