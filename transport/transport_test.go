package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWebSocketTransportDefaults(t *testing.T) {
	tr := NewWebSocketTransport(Events{})
	assert.False(t, tr.IsOpen())
	assert.Equal(t, 10*time.Second, tr.dialer.HandshakeTimeout)
}

func TestWithDialTimeoutOption(t *testing.T) {
	tr := NewWebSocketTransport(Events{}, WithDialTimeout(2*time.Second))
	assert.Equal(t, 2*time.Second, tr.dialer.HandshakeTimeout)
}

func TestSendWhileClosedIsSilentNoop(t *testing.T) {
	tr := NewWebSocketTransport(Events{})
	err := tr.Send([]byte("hello"))
	assert.NoError(t, err)
}

func TestSendUnreliableDegradesToSend(t *testing.T) {
	tr := NewWebSocketTransport(Events{})
	err := tr.SendUnreliable([]byte("hello"))
	assert.NoError(t, err)
}

func TestCloseOnNeverConnectedIsNoop(t *testing.T) {
	tr := NewWebSocketTransport(Events{})
	assert.NoError(t, tr.Close(1000, "bye"))
}
