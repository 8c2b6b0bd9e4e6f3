// Package transport defines the messaging collaborator the dispatcher talks
// to. The WhatsApp implementation lives in internal/channels/whatsapp.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Inbound is a text message received from a chat.
type Inbound struct {
	ID        string
	From      string // chat id replies go to (group JID for groups)
	Sender    string // participant id, equal to From in personal chats
	To        string
	Body      string
	IsGroup   bool
	Timestamp time.Time
}

// LifecycleKind enumerates connection lifecycle notifications.
type LifecycleKind string

const (
	LifecycleConnected    LifecycleKind = "connected"
	LifecycleDisconnected LifecycleKind = "disconnected"
	LifecycleQR           LifecycleKind = "qr-ready"
	LifecycleAuthFailed   LifecycleKind = "auth-failed"
	LifecycleLoggedOut    LifecycleKind = "logged-out"
)

// Lifecycle is a connection event. QR is set for LifecycleQR; Reason is
// free text for the failure kinds.
type Lifecycle struct {
	Kind   LifecycleKind
	QR     string
	Reason string
}

// Transport delivers inbound messages and sends text replies.
type Transport interface {
	OnMessage(func(Inbound))
	OnLifecycle(func(Lifecycle))
	Send(ctx context.Context, target, text string) error
	Start(ctx context.Context) error
	Stop() error
	Logout(ctx context.Context) error
}

// ErrSessionClosed means the underlying session is gone and sends will keep
// failing until it is re-established.
var ErrSessionClosed = errors.New("session closed")

// ErrNotConnected is returned by sends attempted while not connected.
var ErrNotConnected = errors.New("not connected")

var sessionClosedMarkers = []string{
	"session closed",
	"protocol error",
	"websocket not connected",
	"not logged in",
}

// IsSessionClosed reports whether err means the session was lost.
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotConnected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range sessionClosedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
