package withdrawal

import "context"

// Event kinds sent to a Notifier.
const (
	EventCompleted          = "withdrawal_completed"
	EventBlockchainWarning  = "blockchain_warning"
	EventComplianceRejected = "compliance_rejected"
)

// Event describes something a founder or operator should hear about.
type Event struct {
	Kind         string `json:"kind"`
	FounderID    string `json:"founder_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Reference    string `json:"reference"`
	Type         string `json:"type"`
	Personal     int64  `json:"personal"`
	Reinvestment int64  `json:"reinvestment"`
	FiatZAR      string `json:"fiat_zar,omitempty"`
	Warning      string `json:"warning,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Notifier delivers events. Delivery is best-effort and never changes the
// outcome of a withdrawal.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
