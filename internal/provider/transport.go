package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// TransportError wraps a provider send failure. It is retryable up to the
// job's attempt budget.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message is a rendered outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer is an outbound mail transport handle.
type Mailer interface {
	// Send delivers the message, returning the raw provider response and
	// the provider-assigned message id.
	Send(ctx context.Context, msg Message) (providerResponse, messageID string, err error)
	// Verify checks connectivity without sending.
	Verify(ctx context.Context) error
	// Name identifies the transport in logs and ledger entries.
	Name() string
}

// SMTPTransport sends through a tenant's SMTP provider.
type SMTPTransport struct {
	host     string
	port     int
	secure   bool // implicit TLS; STARTTLS is negotiated automatically otherwise
	username string
	password string
}

func NewSMTPTransport(p *tenant.EmailProvider) *SMTPTransport {
	return &SMTPTransport{
		host:     p.Host,
		port:     p.Port,
		secure:   p.Secure,
		username: p.Username,
		password: p.Password,
	}
}

// NewSystemSMTPTransport builds the system-default SMTP transport from
// process configuration.
func NewSystemSMTPTransport(host string, port int, secure bool, username, password string) *SMTPTransport {
	return &SMTPTransport{host: host, port: port, secure: secure, username: username, password: password}
}

func (t *SMTPTransport) Name() string { return "smtp:" + t.host }

func (t *SMTPTransport) addr() string { return net.JoinHostPort(t.host, strconv.Itoa(t.port)) }

func (t *SMTPTransport) client(ctx context.Context) (*smtp.Client, error) {
	deadline, ok := ctx.Deadline()
	timeout := 10 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if t.secure {
		conn, err = tls.DialWithDialer(dialer, "tcp", t.addr(), &tls.Config{ServerName: t.host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.addr())
	}
	if err != nil {
		return nil, err
	}

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if !t.secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
				c.Close()
				return nil, err
			}
		}
	}

	if t.username != "" {
		auth := smtp.PlainAuth("", t.username, t.password, t.host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (t *SMTPTransport) Verify(ctx context.Context) error {
	c, err := t.client(ctx)
	if err != nil {
		return &TransportError{Provider: t.Name(), Err: err}
	}
	defer c.Close()
	return c.Quit()
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, string, error) {
	c, err := t.client(ctx)
	if err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}
	defer c.Close()

	if err := c.Mail(msg.From); err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}
	if err := c.Rcpt(msg.To); err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}

	w, err := c.Data()
	if err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}
	if _, err := w.Write([]byte(buildMIME(msg))); err != nil {
		w.Close()
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}
	if err := w.Close(); err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}
	if err := c.Quit(); err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}

	messageID := fmt.Sprintf("<%d@%s>", time.Now().UnixNano(), t.host)
	return "accepted by " + t.host, messageID, nil
}

func buildMIME(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return b.String()
}

// ResendTransport sends through the Resend API. It serves as an alternative
// system-default tier when no default SMTP server is configured.
type ResendTransport struct {
	client *resend.Client
}

func NewResendTransport(apiKey string) *ResendTransport {
	return &ResendTransport{client: resend.NewClient(apiKey)}
}

func (t *ResendTransport) Name() string { return "resend" }

func (t *ResendTransport) Verify(ctx context.Context) error { return nil }

func (t *ResendTransport) Send(ctx context.Context, msg Message) (string, string, error) {
	sent, err := t.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return "", "", &TransportError{Provider: t.Name(), Err: err}
	}
	return "accepted by resend", sent.Id, nil
}

// ConsoleTransport logs the message instead of sending it. It is the last
// resort of the fallback chain and the development default, so a transport
// is always available.
type ConsoleTransport struct {
	logger *observability.Logger
}

func NewConsoleTransport(logger *observability.Logger) *ConsoleTransport {
	return &ConsoleTransport{logger: logger}
}

func (t *ConsoleTransport) Name() string { return "console" }

func (t *ConsoleTransport) Verify(ctx context.Context) error { return nil }

func (t *ConsoleTransport) Send(ctx context.Context, msg Message) (string, string, error) {
	preview := msg.HTML
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	t.logger.Info("simulated email",
		"to", msg.To,
		"subject", msg.Subject,
		"body", preview,
	)
	return "simulated", fmt.Sprintf("simulated-%d", time.Now().UnixMilli()), nil
}
