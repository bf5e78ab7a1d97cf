package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type sendMailFunc func(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTPNotifier sends alerts as plain-text email.
type SMTPNotifier struct {
	config   SMTPConfig
	now      func() time.Time
	sendMail sendMailFunc
}

// NewSMTPNotifier returns a notifier for config. From defaults to Username.
func NewSMTPNotifier(config SMTPConfig) *SMTPNotifier {
	if config.From == "" {
		config.From = config.Username
	}
	n := &SMTPNotifier{config: config, now: time.Now}
	n.sendMail = n.deliver
	return n
}

// SendAlert delivers subject and body to the address to. The session is
// upgraded with STARTTLS only when the relay advertises it, so a plain
// local relay still receives mail. PLAIN auth is used when a username is
// configured and the relay offers AUTH.
func (n *SMTPNotifier) SendAlert(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if n.config.Username != "" {
		auth = sasl.NewPlainClient("", n.config.Username, n.config.Password)
	}

	msg := n.compose(to, subject, body)
	if err := n.sendMail(ctx, n.config.Addr(), auth, n.config.From, []string{to}, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("notify: send mail to %s: %w", to, err)
	}
	return nil
}

func (n *SMTPNotifier) deliver(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error {
	c, err := n.dial(ctx, addr, false)
	if err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		_ = c.Quit()
		if c, err = n.dial(ctx, addr, true); err != nil {
			return err
		}
	}
	defer c.Close()

	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: relay does not offer AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func (n *SMTPNotifier) dial(ctx context.Context, addr string, startTLS bool) (*smtp.Client, error) {
	dialer := net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if startTLS {
		return smtp.NewClientStartTLS(conn, &tls.Config{ServerName: n.config.Host})
	}
	return smtp.NewClient(conn), nil
}

func (n *SMTPNotifier) compose(to, subject, body string) string {
	host := n.config.Host
	if host == "" {
		host = "localhost"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), host)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

func headerSafe(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
