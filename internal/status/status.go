// Package status tracks the WhatsApp connection state shared by the
// transport, the dispatcher and the HTTP surface.
package status

import (
	"sync"
	"time"

	"github.com/roelfdiedericks/autoreply/internal/bus"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// Connection is the coarse connection status.
type Connection string

const (
	NotConnected Connection = "not_connected"
	QRGenerated  Connection = "qr_generated"
	Connected    Connection = "connected"
)

// Change is the payload of a connection-status-changed event.
type Change struct {
	Status Connection `json:"status"`
	QR     string     `json:"qr,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Snapshot is a consistent read of the state.
type Snapshot struct {
	Status    Connection `json:"status"`
	QR        string     `json:"qr,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	ChangedAt time.Time  `json:"changedAt"`
}

// State holds the connection status. Safe for concurrent use.
type State struct {
	bus *bus.Bus

	mu        sync.RWMutex
	status    Connection
	qr        string
	reason    string
	changedAt time.Time
}

// New returns a State starting at not_connected. b may be nil.
func New(b *bus.Bus) *State {
	return &State{bus: b, status: NotConnected, changedAt: time.Now()}
}

// Status returns the current connection status.
func (s *State) Status() Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// QR returns the pending pairing code, or "" when none is pending.
func (s *State) QR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// Snapshot returns status, QR and last reason together.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Status: s.status, QR: s.qr, Reason: s.reason, ChangedAt: s.changedAt}
}

// IsConnected reports whether sends can be attempted.
func (s *State) IsConnected() bool {
	return s.Status() == Connected
}

// SetConnected marks the session usable and clears any pending QR.
func (s *State) SetConnected() {
	s.set(Connected, "", "")
}

// SetQR records a fresh pairing code.
func (s *State) SetQR(code string) {
	s.set(QRGenerated, code, "")
}

// SetDisconnected marks the session unusable. The reason is forwarded to
// observers even when the status was already not_connected.
func (s *State) SetDisconnected(reason string) {
	s.set(NotConnected, "", reason)
}

func (s *State) set(next Connection, qr, reason string) {
	s.mu.Lock()
	changed := s.status != next || s.qr != qr
	if !changed && reason == "" {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = next
	s.qr = qr
	s.reason = reason
	s.changedAt = time.Now()
	s.mu.Unlock()

	if prev != next {
		L_info("status: connection changed", "from", prev, "to", next, "reason", reason)
	}
	if s.bus != nil {
		s.bus.PublishWithSource(bus.TopicConnectionStatus, Change{Status: next, QR: qr, Reason: reason}, "status")
	}
}
