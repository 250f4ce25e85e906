package beacon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateGroupRejectsOutsideMulticastRange(t *testing.T) {
	require.NoError(t, validateGroup(DefaultGroup))
	require.NoError(t, validateGroup("0.0.0.0"))
	require.NoError(t, validateGroup("255.255.255.255"))
	require.ErrorIs(t, validateGroup("10.0.0.1"), ErrInvalidGroup)
	require.ErrorIs(t, validateGroup("192.168.1.1"), ErrInvalidGroup)
}

func TestBroadcastSendRecv(t *testing.T) {
	port := 31999
	recv, err := NewReceiver("0.0.0.0", port, nil)
	require.NoError(t, err)
	defer recv.Close()

	send, err := NewSender("0.0.0.0", port, nil)
	require.NoError(t, err)
	defer send.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, send.Send([]byte("hello-beacon")))
	}()

	payload, _, err := recv.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello-beacon", string(payload))
	<-done
}

func TestReceiverTimesOut(t *testing.T) {
	recv, err := NewReceiver("0.0.0.0", 31998, nil)
	require.NoError(t, err)
	defer recv.Close()

	_, _, err = recv.Recv(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}
