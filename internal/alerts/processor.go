package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// NewServer builds the asynq worker server for the email and alert queues.
func NewServer(opt asynq.RedisConnOpt, logger *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueEmails: 10,
			QueueAlerts: 5,
		},
		Logger: logger.Sugar(),
	})
}

// Processor delivers queued emails.
type Processor struct {
	mailer Mailer
	logger *zap.Logger
}

func NewProcessor(mailer Mailer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{mailer: mailer, logger: logger}
}

// Mux routes every task type to the processor.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskWithdrawalCompleted, p.handle)
	mux.HandleFunc(TaskBlockchainWarning, p.handle)
	mux.HandleFunc(TaskComplianceRejected, p.handle)
	return mux
}

func (p *Processor) handle(ctx context.Context, t *asynq.Task) error {
	var pl Payload
	if err := json.Unmarshal(t.Payload(), &pl); err != nil {
		// a malformed payload will never succeed
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	env := pl.Envelope
	if err := p.mailer.Send(ctx, env.To, env.Subject, env.Body); err != nil {
		p.logger.Error("email send failed",
			zap.String("task", t.Type()),
			zap.String("founder_id", pl.Event.FounderID),
			zap.String("reference", pl.Event.Reference),
			zap.Error(err))
		return err
	}
	p.logger.Info("email sent",
		zap.String("task", t.Type()),
		zap.String("to", env.To),
		zap.String("reference", pl.Event.Reference))
	return nil
}
