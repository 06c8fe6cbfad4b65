package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/bridgedist/bucketd/notify"
	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

func init() {
	notify.RegisterSink("smtp", func(config cfg.SinkConfiguration) (notify.Sink, error) {
		return NewSMTPSink(SMTPConfig{
			Host:     config.SMTPHost,
			Port:     config.SMTPPort,
			Username: config.SMTPUsername,
			Password: config.SMTPPassword,
			TLS:      config.SMTPTLS,
		})
	})
}

// SMTPConfig holds configuration for SMTPSink
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // Empty disables SMTP AUTH
	Password string
	TLS      string // "none", "opportunistic" (default), "mandatory"
	Timeout  time.Duration
}

// SMTPSink mails each message as plain text
type SMTPSink struct {
	client *mail.Client
}

func tlsPolicy(name string) (mail.TLSPolicy, error) {
	switch name {
	case "", "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	default:
		return mail.NoTLS, fmt.Errorf("unknown smtp tls policy %q", name)
	}
}

// NewSMTPSink creates an SMTP client. No connection is made until Send.
func NewSMTPSink(config SMTPConfig) (*SMTPSink, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp sink requires smtp_host")
	}
	policy, err := tlsPolicy(config.TLS)
	if err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSMTPTimeout
	}

	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(config.Timeout),
	}
	if config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPSink{client: client}, nil
}

// buildMail converts a message into a plain text mail
func buildMail(msg *notify.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// Send mails the message to its To and Cc recipients
func (s *SMTPSink) Send(ctx context.Context, msg *notify.Message) error {
	m, err := buildMail(msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail for %s: %w", msg.Bucket, err)
	}
	return nil
}

// Close is a no-op; each Send dials and closes its own connection
func (s *SMTPSink) Close() error {
	return nil
}
