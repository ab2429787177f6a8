// Package notify emails run reports to the account that runs the job.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// Message is one report email.
type Message struct {
	Subject string
	Body    string
	// AttachmentPath is attached when non-empty.
	AttachmentPath string
}

// Sender delivers built messages. (*mail.Client) satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Config configures the SMTP notifier.
type Config struct {
	Host     string
	Port     int
	Address  string
	Password string
	// SenderName is the display name on the From header.
	SenderName string
}

// Notifier sends report emails from the configured address to itself.
type Notifier struct {
	cfg    Config
	sender Sender
	log    zerolog.Logger
}

// New creates a Notifier that uses STARTTLS and PLAIN auth.
func New(cfg Config, log zerolog.Logger) (*Notifier, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Address),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return NewWithSender(cfg, client, log), nil
}

// NewWithSender creates a Notifier over an existing sender.
func NewWithSender(cfg Config, sender Sender, log zerolog.Logger) *Notifier {
	return &Notifier{cfg: cfg, sender: sender, log: log}
}

// Notify builds and sends msg. A missing attachment or a send failure is
// returned as is.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	m, err := n.build(msg)
	if err != nil {
		return err
	}
	if err := n.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email %q: %w", msg.Subject, err)
	}
	n.log.Info().Str("subject", msg.Subject).Bool("attachment", msg.AttachmentPath != "").Msg("Email sent successfully")
	return nil
}

func (n *Notifier) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(n.cfg.SenderName, n.cfg.Address); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(n.cfg.Address); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if msg.AttachmentPath != "" {
		data, err := os.ReadFile(msg.AttachmentPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		if err := m.AttachReader(filepath.Base(msg.AttachmentPath), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", msg.AttachmentPath, err)
		}
	}
	return m, nil
}
