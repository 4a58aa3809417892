package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

// AppendAudit stores e unless err is set, like a database that refuses the
// insert. A seq that is already stored is ignored.
func (s *recordingSink) AppendAudit(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, have := range s.entries {
		if have.Seq == e.Seq {
			return nil
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) stored() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestAppendChainsEntries(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink, nil)
	ctx := context.Background()

	first, err := l.Append(ctx, ActionWithdrawalRequested, "1", map[string]any{"amount": 40000})
	require.NoError(t, err)
	second, err := l.Append(ctx, ActionWithdrawalCompleted, "1", map[string]any{"amount": 40000})
	require.NoError(t, err)

	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, int64(2), second.Seq)
	assert.Len(t, sink.stored(), 2)
	require.NoError(t, l.Verify())
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, ActionWithdrawalCompleted, "1", map[string]int{"amount": i})
		require.NoError(t, err)
	}

	entries := l.Entries()
	entries[1].Payload = json.RawMessage(`{"amount":999}`)
	assert.ErrorContains(t, VerifyChain(entries), "hash mismatch")

	entries = l.Entries()
	entries[2].PrevHash = GenesisHash
	assert.ErrorContains(t, VerifyChain(entries), "broken link")

	entries = l.Entries()
	assert.ErrorContains(t, VerifyChain(entries[1:]), "out of order")
}

func TestSinkFailureKeepsEntry(t *testing.T) {
	l := New(&recordingSink{err: errors.New("db down")}, nil)
	_, err := l.Append(context.Background(), ActionAttestation, "1", nil)
	require.NoError(t, err)
	assert.Len(t, l.Entries(), 1)
	assert.Equal(t, 1, l.Pending())
}

func TestSinkOutageLeavesNoGap(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink, nil)
	ctx := context.Background()

	_, err := l.Append(ctx, ActionWithdrawalRequested, "1", nil)
	require.NoError(t, err)

	sink.fail(errors.New("db down"))
	_, err = l.Append(ctx, ActionWithdrawalRejected, "1", nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, ActionWithdrawalRequested, "1", nil)
	require.NoError(t, err)
	assert.Len(t, sink.stored(), 1)
	assert.Equal(t, 2, l.Pending())

	sink.fail(nil)
	_, err = l.Append(ctx, ActionWithdrawalCompleted, "1", nil)
	require.NoError(t, err)
	assert.Zero(t, l.Pending())

	stored := sink.stored()
	require.Len(t, stored, 4)
	for i, e := range stored {
		assert.Equal(t, int64(i)+1, e.Seq)
	}
	require.NoError(t, VerifyChain(stored))

	// what a restart would load must restore cleanly
	restarted := New(sink, nil)
	require.NoError(t, restarted.Restore(stored))
	assert.Zero(t, restarted.Pending())
}

func TestFlushRetriesBacklog(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	l := New(sink, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, ActionAttestation, "1", map[string]int{"n": i})
		require.NoError(t, err)
	}
	require.Error(t, l.Flush(ctx))
	assert.Equal(t, 3, l.Pending())

	sink.fail(nil)
	require.NoError(t, l.Flush(ctx))
	assert.Zero(t, l.Pending())
	require.NoError(t, VerifyChain(sink.stored()))
}

func TestForFounderAndRestore(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()
	_, _ = l.Append(ctx, ActionWithdrawalRequested, "1", nil)
	_, _ = l.Append(ctx, ActionWithdrawalRequested, "2", nil)
	_, _ = l.Append(ctx, ActionWithdrawalRejected, "1", map[string]string{"reason": "compliance"})

	assert.Len(t, l.ForFounder("1"), 2)
	assert.Len(t, l.ForFounder("2"), 1)

	restored := New(nil, nil)
	require.NoError(t, restored.Restore(l.Entries()))
	next, err := restored.Append(ctx, ActionWithdrawalCompleted, "2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Seq)
	require.NoError(t, restored.Verify())

	bad := l.Entries()
	bad[0].Action = "forged"
	require.Error(t, New(nil, nil).Restore(bad))
}

func TestConcurrentAppendsStayChained(t *testing.T) {
	l := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Append(context.Background(), ActionUserWithdrawal, "", map[string]int{"i": i})
		}(i)
	}
	wg.Wait()
	assert.Len(t, l.Entries(), 20)
	require.NoError(t, l.Verify())
}
