package alerts

import (
	"time"

	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// Task type constants
const (
	TaskWithdrawalCompleted = "email:withdrawal_completed"
	TaskBlockchainWarning   = "email:blockchain_warning"
	TaskComplianceRejected  = "email:compliance_rejected"
)

// Queue names
const (
	QueueEmails = "emails"
	QueueAlerts = "alerts"
)

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Payload carries the withdrawal event and the rendered email.
type Payload struct {
	Event    withdrawal.Event `json:"event"`
	Envelope EmailEnvelope    `json:"envelope"`
	SentAt   time.Time        `json:"sent_at"`
}
