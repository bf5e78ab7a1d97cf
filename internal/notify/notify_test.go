package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifierAndMonitor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, NewLogNotifier(logger).SendAlert(context.Background(), "owner@example.com", "subject", "body"))
	assert.Contains(t, buf.String(), "subject=subject")

	monitor := NewLogMonitor(logger)
	require.NoError(t, monitor.Call(context.Background(), "911", 4))
	assert.Contains(t, buf.String(), "phone=911")
	assert.ErrorIs(t, monitor.Call(context.Background(), "", 4), ErrNoRecipient)
}

func TestSMTPNotifierComposesMessage(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", Port: 587, Username: "panel@example.com", Password: "secret"})
	n.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotAuth sasl.Client
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	n.sendMail = func(_ context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(data)
		return nil
	}

	err := n.SendAlert(context.Background(), " owner@example.com ", "SafeHome\nintrusion", "line one\nline two")
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "panel@example.com", gotFrom)
	assert.Equal(t, []string{"owner@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: SafeHome intrusion\r\n")
	assert.Contains(t, gotMsg, "To: owner@example.com\r\n")
	assert.Contains(t, gotMsg, "Date: Wed, 01 May 2024 12:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nline one\r\nline two\r\n"))
}

func TestSMTPNotifierErrors(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", Port: 25})
	n.sendMail = func(context.Context, string, sasl.Client, string, []string, io.Reader) error {
		return errors.New("connection refused")
	}

	assert.ErrorIs(t, n.SendAlert(context.Background(), "", "s", "b"), ErrNoRecipient)

	err := n.SendAlert(context.Background(), "owner@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.SendAlert(ctx, "owner@example.com", "s", "b"), context.Canceled)
}

type captureBackend struct {
	mu       sync.Mutex
	from     string
	rcpts    []string
	messages []string
}

func (b *captureBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &captureSession{backend: b}, nil
}

type captureSession struct {
	backend *captureBackend
}

func (s *captureSession) Mail(from string, _ *smtp.MailOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.rcpts = append(s.backend.rcpts, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, string(data))
	return nil
}

func (s *captureSession) Reset() {}

func (s *captureSession) Logout() error { return nil }

func TestSMTPNotifierDeliversToRelay(t *testing.T) {
	backend := &captureBackend{}
	server := smtp.NewServer(backend)
	server.Domain = "localhost"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(func() { _ = server.Close() })

	port := listener.Addr().(*net.TCPAddr).Port
	n := NewSMTPNotifier(SMTPConfig{Host: "127.0.0.1", Port: port, From: "panel@example.com"})

	require.NoError(t, n.SendAlert(context.Background(), "owner@example.com", "SafeHome intrusion", "Sensor 1 tripped"))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "panel@example.com", backend.from)
	assert.Equal(t, []string{"owner@example.com"}, backend.rcpts)
	require.Len(t, backend.messages, 1)
	assert.Contains(t, backend.messages[0], "Sensor 1 tripped")
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), n.config.Addr())
}

func TestSMTPNotifierRefusesCredentialsWithoutAuth(t *testing.T) {
	backend := &captureBackend{}
	server := smtp.NewServer(backend)
	server.Domain = "localhost"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(func() { _ = server.Close() })

	port := listener.Addr().(*net.TCPAddr).Port
	n := NewSMTPNotifier(SMTPConfig{Host: "127.0.0.1", Port: port, Username: "panel@example.com", Password: "secret"})

	err = n.SendAlert(context.Background(), "owner@example.com", "SafeHome intrusion", "Sensor 1 tripped")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not offer AUTH")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.messages)
}

type flakySender struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *flakySender) SendAlert(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *flakySender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBreakerNotifier(t *testing.T) {
	t.Run("opens after consecutive failures", func(t *testing.T) {
		sender := &flakySender{err: errors.New("relay down")}
		b := NewBreakerNotifier(sender, BreakerSettings{Name: "test", MaxFailures: 2, OpenTimeout: time.Hour}, nil)

		assert.EqualError(t, b.SendAlert(context.Background(), "a@example.com", "s", "b"), "relay down")
		assert.EqualError(t, b.SendAlert(context.Background(), "a@example.com", "s", "b"), "relay down")
		assert.Equal(t, "open", b.State())

		err := b.SendAlert(context.Background(), "a@example.com", "s", "b")
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 2, sender.count())
	})

	t.Run("recovers after timeout", func(t *testing.T) {
		sender := &flakySender{err: errors.New("relay down")}
		b := NewBreakerNotifier(sender, BreakerSettings{Name: "test", MaxFailures: 1, OpenTimeout: 20 * time.Millisecond}, nil)

		require.Error(t, b.SendAlert(context.Background(), "a@example.com", "s", "b"))
		assert.Equal(t, "open", b.State())

		sender.mu.Lock()
		sender.err = nil
		sender.mu.Unlock()

		assert.Eventually(t, func() bool {
			return b.SendAlert(context.Background(), "a@example.com", "s", "b") == nil
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, "closed", b.State())
	})

	t.Run("missing recipient bypasses breaker", func(t *testing.T) {
		sender := &flakySender{}
		b := NewBreakerNotifier(sender, DefaultBreakerSettings(), nil)

		assert.ErrorIs(t, b.SendAlert(context.Background(), "", "s", "b"), ErrNoRecipient)
		assert.Equal(t, 0, sender.count())
	})
}
