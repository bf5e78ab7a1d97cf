// Package device provides simulated hardware leaves: door/window contacts,
// motion detectors and a pan/tilt/zoom camera that renders synthetic frames.
package device

import "sync"

// Sensor is a simulated contact or motion sensor. The physical state
// (open door, detected motion) is independent of whether the sensor is armed.
type Sensor struct {
	mu        sync.RWMutex
	kind      string
	armed     bool
	triggered bool
	closed    bool
}

// NewWinDoorSensor returns a closed, disarmed door/window contact.
func NewWinDoorSensor() *Sensor {
	return &Sensor{kind: "WINDOOR"}
}

// NewMotionSensor returns an idle, disarmed motion detector.
func NewMotionSensor() *Sensor {
	return &Sensor{kind: "MOTION"}
}

// Kind returns "WINDOOR" or "MOTION".
func (s *Sensor) Kind() string {
	return s.kind
}

// Arm enables detection.
func (s *Sensor) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.armed = true
	}
}

// Disarm disables detection.
func (s *Sensor) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
}

// Armed reports whether detection is enabled.
func (s *Sensor) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

// Trigger simulates an opened contact or detected motion.
func (s *Sensor) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.triggered = true
	}
}

// Release simulates the contact closing or motion ceasing.
func (s *Sensor) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = false
}

// Triggered reports the raw physical state regardless of arming.
func (s *Sensor) Triggered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.triggered
}

// Read reports a detection: the sensor is armed and triggered.
func (s *Sensor) Read() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed && s.triggered
}

// Close stops the leaf. A closed sensor never reads true again.
func (s *Sensor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.armed = false
	s.triggered = false
}
