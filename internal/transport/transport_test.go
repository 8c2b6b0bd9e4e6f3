package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSessionClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrSessionClosed, true},
		{"wrapped sentinel", fmt.Errorf("send: %w", ErrSessionClosed), true},
		{"not connected", fmt.Errorf("whatsapp: %w", ErrNotConnected), true},
		{"protocol error text", errors.New("Protocol error (Runtime.callFunctionOn): Session closed."), true},
		{"websocket", errors.New("failed to send: websocket not connected"), true},
		{"unrelated", errors.New("message too long"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSessionClosed(tt.err))
		})
	}
}
