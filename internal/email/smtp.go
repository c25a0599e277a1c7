package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // optional - some servers allow unauthenticated relay
	Password string // optional
	From     string // default sender address
	Timeout  time.Duration
}

// SMTPSender implements Sender using go-mail. TLS mode follows the port:
// implicit TLS on 465, mandatory STARTTLS on 587, opportunistic elsewhere.
type SMTPSender struct {
	config SMTPConfig
	logger *slog.Logger
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTP sender from config.
func NewSMTPSender(config SMTPConfig, logger *slog.Logger) *SMTPSender {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{config: config, logger: logger}
}

// Send dials the server and delivers email.
func (s *SMTPSender) Send(ctx context.Context, email *Email) (string, error) {
	msg, err := s.buildMessage(email)
	if err != nil {
		return "", err
	}

	client, err := mail.NewClient(s.config.Host, s.clientOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.Error("smtp: failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("smtp: email sent", "to", email.To, "subject", email.Subject)
	var messageID string
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		messageID = ids[0]
	}
	return messageID, nil
}

func (s *SMTPSender) buildMessage(email *Email) (*mail.Msg, error) {
	if len(email.To) == 0 {
		return nil, ErrNoRecipient
	}

	msg := mail.NewMsg()

	from := email.From
	if from == "" {
		from = s.config.From
	}
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}

	msg.Subject(email.Subject)
	msg.SetMessageID()
	msg.SetDate()

	switch {
	case email.HTMLBody != "" && email.TextBody != "":
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTMLBody)
	case email.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextHTML, email.HTMLBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
	}

	for key, value := range email.Headers {
		msg.SetGenHeader(mail.Header(key), value)
	}

	return msg, nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTimeout(s.config.Timeout),
	}

	switch s.config.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		// 25, or a local catcher like Mailpit on 1025
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if s.config.Username != "" && s.config.Password != "" {
		opts = append(opts,
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	return opts
}

// LogSender logs messages instead of delivering them. Used when SMTP is not
// configured.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) Send(ctx context.Context, email *Email) (string, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not sent: smtp not configured",
		"to", email.To,
		"subject", email.Subject,
	)
	return "", nil
}
