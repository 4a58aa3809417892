package compliance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time      { return c.t }
func (c *fakeClock) add(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

type memStore struct {
	mu    sync.Mutex
	saved []Record
	err   error
}

func (s *memStore) SaveComplianceRecord(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	return s.err
}

var constitution = Constitution{Version: "1.0.0", Hash: "abc123"}

func setup(t *testing.T) (*Gate, *fakeClock, *memStore) {
	t.Helper()
	l, err := ledger.New(ledger.Options{})
	require.NoError(t, err)
	_, err = l.RegisterFounder(ledger.FounderSpec{ID: "1", Name: "Sizwe", Total: 100000})
	require.NoError(t, err)

	clock := newClock()
	store := &memStore{}
	g := NewGate(l, Options{Constitution: constitution, Store: store, Now: clock.now})
	return g, clock, store
}

func compliant(t *testing.T, g *Gate) {
	t.Helper()
	ctx := context.Background()
	_, err := g.Attest(ctx, "1", constitution.Hash)
	require.NoError(t, err)
	_, err = g.RecordFicaVerification(ctx, "1", FicaResult{Verified: true, Reference: "fica-1"})
	require.NoError(t, err)
}

func TestCheckComplianceFirstCallCreatesRecord(t *testing.T) {
	g, _, store := setup(t)
	ctx := context.Background()

	st, err := g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.False(t, st.Compliant)
	assert.Equal(t, ReasonNoRecord, st.Reason)
	require.Len(t, store.saved, 1)

	st, err = g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.False(t, st.Compliant)
	assert.Equal(t, ReasonAttestation, st.Reason)
}

func TestCheckComplianceUnknownFounder(t *testing.T) {
	g, _, _ := setup(t)
	_, err := g.CheckCompliance(context.Background(), "ghost")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCheckComplianceOrder(t *testing.T) {
	g, clock, _ := setup(t)
	ctx := context.Background()

	_, err := g.RecordViolation(ctx, "1", "late report")
	require.NoError(t, err)

	// attestation is checked before fica and violations
	st, err := g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, ReasonAttestation, st.Reason)

	_, err = g.Attest(ctx, "1", constitution.Hash)
	require.NoError(t, err)
	st, err = g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, ReasonFica, st.Reason)

	_, err = g.RecordFicaVerification(ctx, "1", FicaResult{Verified: true})
	require.NoError(t, err)
	st, err = g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, ReasonViolations, st.Reason)

	_, err = g.ClearViolations(ctx, "1")
	require.NoError(t, err)
	st, err = g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.True(t, st.Compliant)
	assert.Empty(t, st.Reason)

	clock.add(DefaultAttestationWindow + time.Second)
	st, err = g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.False(t, st.Compliant)
	assert.Equal(t, ReasonAttestation, st.Reason)
}

func TestAttestationWindowBoundary(t *testing.T) {
	g, clock, _ := setup(t)
	compliant(t, g)

	clock.add(DefaultAttestationWindow)
	st, err := g.CheckCompliance(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, st.Compliant, "exactly 90 days is still valid")

	r, ok := g.Record("1")
	require.True(t, ok)
	assert.Equal(t, r.LastAttestation.Add(DefaultAttestationWindow), g.ExpiresAt(r))
}

func TestAttestRejectsStaleHash(t *testing.T) {
	g, _, _ := setup(t)
	ctx := context.Background()

	_, err := g.Attest(ctx, "1", "old-hash")
	require.ErrorIs(t, err, ledger.ErrStaleConstitution)
	var le *ledger.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "1.0.0", le.Details["current_version"])

	_, err = g.Attest(ctx, "1", "")
	require.ErrorIs(t, err, ledger.ErrValidation)

	g.Publish(Constitution{Version: "1.1.0", Hash: "def456"})
	_, err = g.Attest(ctx, "1", constitution.Hash)
	require.ErrorIs(t, err, ledger.ErrStaleConstitution)

	r, err := g.Attest(ctx, "1", "def456")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", r.ConstitutionVersion)
}

func TestFicaFailureRevokesCompliance(t *testing.T) {
	g, _, _ := setup(t)
	compliant(t, g)
	ctx := context.Background()

	r, err := g.RecordFicaVerification(ctx, "1", FicaResult{Verified: false, Status: "pending_documents"})
	require.ErrorIs(t, err, ledger.ErrFicaVerificationFailed)
	assert.False(t, r.FicaCompliant)
	assert.Equal(t, "pending_documents", r.FicaStatus)

	st, err := g.CheckCompliance(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, ReasonFica, st.Reason)
}

func TestPersistFailureDoesNotBlock(t *testing.T) {
	g, _, store := setup(t)
	store.err = errors.New("db down")
	compliant(t, g)

	st, err := g.CheckCompliance(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, st.Compliant)
}

func TestRestoreRecords(t *testing.T) {
	g, clock, _ := setup(t)
	g.Restore([]Record{{
		FounderID:       "1",
		LastAttestation: clock.t.Add(-24 * time.Hour),
		FicaCompliant:   true,
		FicaStatus:      "verified",
	}})

	st, err := g.CheckCompliance(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, st.Compliant)
}
