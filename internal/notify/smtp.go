package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nerrad567/tracker-broker-core/internal/credential"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
)

// Logger is the logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// SMTPMailer delivers credential mail through an SMTP relay. It
// implements credential.Notifier.
type SMTPMailer struct {
	server Server
	from   string
	broker Broker
	send   func(Server, *Message) error
	logger Logger
}

// Server is an SMTP relay.
type Server struct {
	HostPort string
	TLS      *tls.Config
	User     string
	Password string
	Hello    string
}

// NewSMTPMailer returns ErrDisabled when cfg is not enabled.
func NewSMTPMailer(cfg config.SMTPConfig, brokerURL string, logger Logger) (*SMTPMailer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("notify: smtp host and from address are required")
	}
	broker, err := ParseBroker(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if logger == nil {
		logger = noopLogger{}
	}

	server := Server{
		HostPort: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		User:     cfg.Username,
		Password: cfg.Password,
		Hello:    cfg.Hello,
	}
	if cfg.TLS {
		server.TLS = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	return &SMTPMailer{
		server: server,
		from:   cfg.From,
		broker: broker,
		send:   Send,
		logger: logger,
	}, nil
}

// SendCredentials mails n to the device owner.
func (m *SMTPMailer) SendCredentials(ctx context.Context, n credential.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := RenderCredentials(n, m.broker)
	if err != nil {
		return err
	}

	msg := &Message{
		From:    m.from,
		To:      []string{n.OwnerEmail},
		Subject: credentialsSubject,
		Body:    body,
	}
	if err := m.send(m.server, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	m.logger.Info("credential mail sent", "device_id", n.DeviceID, "to", n.OwnerEmail)
	return nil
}

func dial(s Server) (*smtp.Client, error) {
	var client *smtp.Client
	var err error

	if s.TLS != nil {
		client, err = smtp.DialTLS(s.HostPort, s.TLS)
	} else {
		client, err = smtp.Dial(s.HostPort)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to smtp server: %w", err)
	}

	if s.Hello != "" {
		if err := client.Hello(s.Hello); err != nil {
			client.Close()
			return nil, fmt.Errorf("could not greet upstream: %w", err)
		}
	}

	if s.User != "" || s.Password != "" {
		if err := client.Auth(sasl.NewLoginClient(s.User, s.Password)); err != nil {
			client.Close()
			return nil, fmt.Errorf("AUTH failed: %w", err)
		}
	}
	return client, nil
}

// Send delivers one message.
func Send(s Server, msg *Message) error {
	client, err := dial(s)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(msg.From, nil); err != nil {
		return fmt.Errorf("smtp server rejected mail from '%s': %w", msg.From, err)
	}
	for _, to := range msg.To {
		if err := client.Rcpt(to, nil); err != nil {
			return fmt.Errorf("smtp server rejected mail to '%s': %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp server rejected request to send mail data: %w", err)
	}
	if err := msg.Write(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp server rejected mail data: %w", err)
	}

	if err := client.Quit(); err != nil {
		// Some servers answer QUIT with 250 instead of 221.
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code == 250 {
			return nil
		}
		return err
	}
	return nil
}
