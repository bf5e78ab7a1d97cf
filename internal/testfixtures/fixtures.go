package testfixtures

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Alert is one message captured by AlertRecorder.
type Alert struct {
	To      string
	Subject string
	Body    string
}

// AlertRecorder captures alert deliveries. When Err is set every delivery
// fails with it after being recorded.
type AlertRecorder struct {
	mu     sync.Mutex
	alerts []Alert
	Err    error
}

// SendAlert records the alert.
func (r *AlertRecorder) SendAlert(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{To: to, Subject: subject, Body: body})
	return r.Err
}

// Alerts returns a copy of the recorded alerts.
func (r *AlertRecorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Call is one dial-out captured by CallRecorder.
type Call struct {
	Phone    string
	SensorID int
}

// CallRecorder captures monitoring-service dial-outs.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

// Call records the dial-out.
func (r *CallRecorder) Call(_ context.Context, phone string, sensorID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Phone: phone, SensorID: sensorID})
	return nil
}

// Calls returns a copy of the recorded dial-outs.
func (r *CallRecorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// TokenSequence produces deterministic tokens such as "token-1", "token-2".
type TokenSequence struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewTokenSequence returns a sequence using prefix, or "token" when empty.
func NewTokenSequence(prefix string) *TokenSequence {
	if prefix == "" {
		prefix = "token"
	}
	return &TokenSequence{prefix: prefix}
}

// Next returns the next token.
func (s *TokenSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return fmt.Sprintf("%s-%d", s.prefix, s.counter)
}
