package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// Actions recorded in the log.
const (
	ActionFounderRegistered   = "founder_registered"
	ActionWithdrawalRequested = "withdrawal_requested"
	ActionWithdrawalRejected  = "withdrawal_rejected"
	ActionWithdrawalCompleted = "withdrawal_completed"
	ActionBankTransferFailed  = "bank_transfer_failed"
	ActionBlockchainFailed    = "blockchain_recording_failed"
	ActionAttestation         = "constitution_attested"
	ActionFicaVerification    = "fica_verification"
	ActionViolationRecorded   = "violation_recorded"
	ActionViolationsCleared   = "violations_cleared"
	ActionUserWithdrawal      = "user_withdrawal"
)

// GenesisHash is the previous hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

type Entry struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Action    string          `json:"action"`
	FounderID string          `json:"founder_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// Sink persists entries after they are chained.
type Sink interface {
	AppendAudit(ctx context.Context, e Entry) error
}

// Log is an append-only, SHA3-256 hash-chained audit log.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	synced  int // entries[:synced] are in the sink
	sink    Sink
	logger  *zap.Logger
	now     func() time.Time

	// flushMu serializes sink writes so the sink only ever holds a prefix
	// of the chain.
	flushMu sync.Mutex
}

func New(sink Sink, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{sink: sink, logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append chains a new entry and flushes the unsynced backlog to the sink.
// Persistence failures are logged and do not remove the entry from the
// in-memory chain; the backlog is retried on the next append or Flush.
func (l *Log) Append(ctx context.Context, action, founderID string, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit payload: %w", err)
	}

	l.mu.Lock()
	prev := GenesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	e := Entry{
		ID:        uuid.New().String(),
		Seq:       int64(len(l.entries)) + 1,
		Action:    action,
		FounderID: founderID,
		Payload:   raw,
		// postgres keeps microseconds
		Timestamp: l.now().UTC().Truncate(time.Microsecond),
		PrevHash:  prev,
	}
	e.Hash = Hash(e)
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.logger.Info("audit",
		zap.String("action", action),
		zap.String("founder_id", founderID),
		zap.Int64("seq", e.Seq),
		zap.ByteString("payload", raw))

	if err := l.Flush(ctx); err != nil {
		l.logger.Error("failed to persist audit entry",
			zap.Int64("seq", e.Seq),
			zap.Int("unpersisted", l.Pending()),
			zap.Error(err))
	}
	return e, nil
}

// Flush writes unsynced entries to the sink in sequence order and stops at
// the first failure.
func (l *Log) Flush(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	backlog := append([]Entry(nil), l.entries[l.synced:]...)
	l.mu.Unlock()

	for _, e := range backlog {
		if err := l.sink.AppendAudit(ctx, e); err != nil {
			return err
		}
		l.mu.Lock()
		l.synced++
		l.mu.Unlock()
	}
	return nil
}

// Pending is the number of entries not yet in the sink.
func (l *Log) Pending() int {
	if l.sink == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) - l.synced
}

// Hash computes the chain hash of e over its previous hash and contents.
func Hash(e Entry) string {
	h := sha3.New256()
	for _, part := range []string{
		e.PrevHash,
		strconv.FormatInt(e.Seq, 10),
		e.Action,
		e.FounderID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Entries returns a copy of the chain.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// ForFounder returns the founder's entries in order.
func (l *Log) ForFounder(founderID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.FounderID == founderID {
			out = append(out, e)
		}
	}
	return out
}

// Verify walks the chain and reports the first broken link.
func (l *Log) Verify() error {
	return VerifyChain(l.Entries())
}

// VerifyChain checks sequence numbers, links and hashes.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.Seq != int64(i)+1 {
			return fmt.Errorf("audit entry %d: sequence %d out of order", i+1, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("audit entry %d: broken link", e.Seq)
		}
		if Hash(e) != e.Hash {
			return fmt.Errorf("audit entry %d: hash mismatch", e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

// Restore replaces the in-memory chain with persisted entries after verifying them.
func (l *Log) Restore(entries []Entry) error {
	if err := VerifyChain(entries); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry(nil), entries...)
	l.synced = len(l.entries)
	return nil
}
