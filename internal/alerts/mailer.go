package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailConfig selects and configures the mail provider.
type MailConfig struct {
	Provider string // smtp, plunk or log

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	ReplyTo      string

	PlunkAPIKey string
	PlunkFrom   string
	PlunkAPIURL string
}

// NewMailer picks a provider. With no provider set, a Plunk key selects
// Plunk and otherwise emails are only logged.
func NewMailer(cfg MailConfig, logger *zap.Logger) (Mailer, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "log"
		if cfg.PlunkAPIKey != "" {
			provider = "plunk"
		}
	}
	switch provider {
	case "plunk":
		if cfg.PlunkAPIKey == "" {
			return nil, fmt.Errorf("plunk not configured: set PLUNK_API_KEY")
		}
		return &PlunkMailer{APIKey: cfg.PlunkAPIKey, From: cfg.PlunkFrom, APIURL: cfg.PlunkAPIURL, ReplyTo: cfg.ReplyTo}, nil
	case "smtp":
		if cfg.SMTPHost == "" || cfg.SMTPPort == "" || cfg.SMTPUsername == "" || cfg.SMTPPassword == "" || cfg.SMTPFrom == "" {
			return nil, fmt.Errorf("smtp not configured: set SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_FROM (or set MAIL_PROVIDER=plunk)")
		}
		return &SMTPMailer{cfg: cfg}, nil
	case "log":
		return LogMailer{logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown mail provider %q", provider)
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	if m.logger != nil {
		m.logger.Info("email", zap.String("to", to), zap.String("subject", subject), zap.String("body", body))
	}
	return nil
}

// SMTPMailer sends a plain text email using SMTP with TLS.
type SMTPMailer struct {
	cfg MailConfig
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := buildMessage(m.cfg.SMTPFrom, to, m.cfg.ReplyTo, subject, body)
	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: m.cfg.SMTPHost}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(m.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, replyTo, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if replyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	contentType := "text/plain"
	lb := strings.ToLower(body)
	if strings.Contains(lb, "<html") || strings.Contains(lb, "<body") || strings.Contains(lb, "<!doctype html") {
		contentType = "text/html"
	}
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	b.WriteString("\r\n" + body + "\r\n")
	return b.String()
}
