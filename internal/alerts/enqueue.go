package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// Enqueuer is the part of *asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier turns withdrawal events into asynq email tasks.
type Notifier struct {
	client   Enqueuer
	opsEmail string
	appURL   string
	now      func() time.Time
}

// NewNotifier returns a Notifier. Operational alerts go to opsEmail.
func NewNotifier(client Enqueuer, opsEmail, appURL string) *Notifier {
	if appURL == "" {
		appURL = "http://localhost:3000"
	}
	return &Notifier{
		client:   client,
		opsEmail: opsEmail,
		appURL:   strings.TrimRight(appURL, "/"),
		now:      time.Now,
	}
}

// Notify schedules the email for e.
func (n *Notifier) Notify(ctx context.Context, e withdrawal.Event) error {
	task, queue, err := n.task(e)
	if err != nil {
		return err
	}
	// one email per event and reference
	id := fmt.Sprintf("%s:%s:%s", e.Kind, e.FounderID, e.Reference)
	_, err = n.client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.TaskID(id), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return nil
}

func (n *Notifier) task(e withdrawal.Event) (*asynq.Task, string, error) {
	var (
		typ   string
		queue string
		env   EmailEnvelope
	)
	switch e.Kind {
	case withdrawal.EventCompleted:
		typ, queue = TaskWithdrawalCompleted, QueueEmails
		env = EmailEnvelope{
			To:      e.Email,
			Subject: "Your withdrawal has been processed",
			Body: fmt.Sprintf("Hi %s,\n\nYour %s withdrawal (reference %s) is complete.\n\n"+
				"Personal: %d AZR\nReinvestment: %d AZR\nPaid out: R%s\n\nView your allocation: %s/founders/%s",
				e.Name, e.Type, e.Reference, e.Personal, e.Reinvestment, zeroIfEmpty(e.FiatZAR), n.appURL, e.FounderID),
		}
	case withdrawal.EventBlockchainWarning:
		typ, queue = TaskBlockchainWarning, QueueAlerts
		env = EmailEnvelope{
			To:      n.opsEmail,
			Subject: "Blockchain recording failed for a completed withdrawal",
			Body: fmt.Sprintf("Withdrawal %s for founder %s (%s) completed but was not recorded on chain.\n\n%s\n\n"+
				"Record it manually and attach the transaction to the withdrawal.",
				e.Reference, e.FounderID, e.Name, e.Warning),
		}
	case withdrawal.EventComplianceRejected:
		typ, queue = TaskComplianceRejected, QueueEmails
		env = EmailEnvelope{
			To:      e.Email,
			Subject: "Action required before your next withdrawal",
			Body: fmt.Sprintf("Hi %s,\n\nYour withdrawal request %s could not proceed: %s.\n\n"+
				"Review your compliance status: %s/compliance/%s",
				e.Name, e.Reference, e.Reason, n.appURL, e.FounderID),
		}
	default:
		return nil, "", fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if env.To == "" {
		return nil, "", fmt.Errorf("no recipient for %s", e.Kind)
	}
	b, err := json.Marshal(Payload{Event: e, Envelope: env, SentAt: n.now()})
	if err != nil {
		return nil, "", err
	}
	return asynq.NewTask(typ, b), queue, nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0.00"
	}
	return s
}
