package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type fakeMailer struct {
	sent []EmailEnvelope
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, EmailEnvelope{To: to, Subject: subject, Body: body})
	return nil
}

func TestNotifyEnqueuesPerKind(t *testing.T) {
	q := &fakeEnqueuer{}
	n := NewNotifier(q, "ops@azora.world", "https://azora.world/")
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, withdrawal.Event{
		Kind: withdrawal.EventCompleted, FounderID: "1", Name: "Sizwe", Email: "sizwe@azora.world",
		Reference: "ref-1", Type: "personal", Personal: 100, FiatZAR: "18500.00",
	}))
	require.NoError(t, n.Notify(ctx, withdrawal.Event{
		Kind: withdrawal.EventBlockchainWarning, FounderID: "1", Reference: "ref-1", Warning: "node down",
	}))
	require.NoError(t, n.Notify(ctx, withdrawal.Event{
		Kind: withdrawal.EventComplianceRejected, FounderID: "1", Email: "sizwe@azora.world", Reason: "FICA compliance not verified",
	}))

	require.Len(t, q.tasks, 3)
	assert.Equal(t, TaskWithdrawalCompleted, q.tasks[0].Type())
	assert.Equal(t, TaskBlockchainWarning, q.tasks[1].Type())
	assert.Equal(t, TaskComplianceRejected, q.tasks[2].Type())

	var p Payload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &p))
	assert.Equal(t, "sizwe@azora.world", p.Envelope.To)
	assert.Contains(t, p.Envelope.Body, "R18500.00")
	assert.Contains(t, p.Envelope.Body, "https://azora.world/founders/1")

	require.NoError(t, json.Unmarshal(q.tasks[1].Payload(), &p))
	assert.Equal(t, "ops@azora.world", p.Envelope.To)
}

func TestNotifyErrors(t *testing.T) {
	n := NewNotifier(&fakeEnqueuer{}, "", "")
	err := n.Notify(context.Background(), withdrawal.Event{Kind: "mystery"})
	require.Error(t, err)

	// no ops address configured
	err = n.Notify(context.Background(), withdrawal.Event{Kind: withdrawal.EventBlockchainWarning})
	require.Error(t, err)

	n = NewNotifier(&fakeEnqueuer{err: errors.New("redis down")}, "", "")
	err = n.Notify(context.Background(), withdrawal.Event{Kind: withdrawal.EventCompleted, Email: "a@b.c"})
	require.ErrorContains(t, err, "redis down")
}

func TestProcessorSendsEnvelope(t *testing.T) {
	q := &fakeEnqueuer{}
	n := NewNotifier(q, "ops@azora.world", "")
	require.NoError(t, n.Notify(context.Background(), withdrawal.Event{
		Kind: withdrawal.EventComplianceRejected, FounderID: "2", Email: "thabo@azora.world", Reason: "stale",
	}))

	m := &fakeMailer{}
	p := NewProcessor(m, zap.NewNop())
	require.NoError(t, p.handle(context.Background(), q.tasks[0]))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "thabo@azora.world", m.sent[0].To)

	m.err = errors.New("smtp down")
	require.Error(t, p.handle(context.Background(), q.tasks[0]))

	err := p.handle(context.Background(), asynq.NewTask(TaskComplianceRejected, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPlunkMailer(t *testing.T) {
	var got plunkSendBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		if got.To == "bounce@x" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := &PlunkMailer{APIKey: "key", APIURL: srv.URL, From: "ledger@azora.world"}
	require.NoError(t, m.Send(context.Background(), "a@b.c", "hi", "body"))
	assert.Equal(t, "ledger@azora.world", got.From)

	err := m.Send(context.Background(), "bounce@x", "hi", "body")
	require.ErrorContains(t, err, "status=400")
}

func TestNewMailer(t *testing.T) {
	m, err := NewMailer(MailConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, LogMailer{}, m)

	m, err = NewMailer(MailConfig{PlunkAPIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PlunkMailer{}, m)

	_, err = NewMailer(MailConfig{Provider: "smtp"}, nil)
	require.Error(t, err)

	_, err = NewMailer(MailConfig{Provider: "pigeon"}, nil)
	require.Error(t, err)
}

func TestBuildMessageDetectsHTML(t *testing.T) {
	msg := buildMessage("from@x", "to@x", "reply@x", "s", "<html><body>hi</body></html>")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, "Reply-To: reply@x")
	assert.Contains(t, buildMessage("f", "t", "", "s", "plain"), "Content-Type: text/plain")
}
