package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/autoreply/internal/bus"
)

func collect(b *bus.Bus) *[]Change {
	var changes []Change
	b.Subscribe(bus.TopicConnectionStatus, func(e bus.Event) {
		changes = append(changes, e.Data.(Change))
	})
	return &changes
}

func TestLifecycle(t *testing.T) {
	b := bus.New()
	changes := collect(b)
	s := New(b)

	assert.Equal(t, NotConnected, s.Status())
	assert.False(t, s.IsConnected())

	s.SetQR("2@abc")
	assert.Equal(t, QRGenerated, s.Status())
	assert.Equal(t, "2@abc", s.QR())

	s.SetConnected()
	assert.True(t, s.IsConnected())
	assert.Empty(t, s.QR())

	s.SetDisconnected("session closed")
	assert.Equal(t, NotConnected, s.Status())
	assert.Equal(t, "session closed", s.Snapshot().Reason)

	require.Len(t, *changes, 3)
	assert.Equal(t, Change{Status: QRGenerated, QR: "2@abc"}, (*changes)[0])
	assert.Equal(t, Change{Status: Connected}, (*changes)[1])
	assert.Equal(t, Change{Status: NotConnected, Reason: "session closed"}, (*changes)[2])
}

func TestRepeatedStateIsNotRepublished(t *testing.T) {
	b := bus.New()
	changes := collect(b)
	s := New(b)

	s.SetConnected()
	s.SetConnected()
	s.SetDisconnected("")
	s.SetDisconnected("")

	assert.Len(t, *changes, 2)
}

func TestDisconnectReasonAlwaysNotifies(t *testing.T) {
	b := bus.New()
	changes := collect(b)
	s := New(b)

	s.SetDisconnected("logged out")
	s.SetDisconnected("auth failed")

	require.Len(t, *changes, 2)
	assert.Equal(t, "auth failed", (*changes)[1].Reason)
}

func TestNewQRReplacesOld(t *testing.T) {
	s := New(nil)
	s.SetQR("one")
	s.SetQR("two")
	assert.Equal(t, "two", s.QR())
}
