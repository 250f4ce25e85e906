package postroller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pytroll/posttroll-go/message"
)

func TestFakePublisherRejectsSendBeforeStart(t *testing.T) {
	pub := NewFakePublisher()
	msg, err := message.New("/scene", "info", "a@b", "", nil)
	require.NoError(t, err)

	require.ErrorIs(t, pub.Send(msg), ErrNotStarted)
}

func TestFakePublisherDeliversToPipedSubscriber(t *testing.T) {
	pub := NewFakePublisher()
	pub.Start()
	sub := NewFakeSubscriber(4)
	pub.Pipe(sub)

	msg, err := message.New("/scene", "info", "a@b", "", nil)
	require.NoError(t, err)
	require.NoError(t, pub.Send(msg))

	got, ok := sub.Recv()
	require.True(t, ok)
	require.Equal(t, "/scene", got.Subject)
	require.Len(t, pub.Published, 1)
}

func TestFakeSubscriberStopUnblocksRecv(t *testing.T) {
	sub := NewFakeSubscriber(0)
	done := make(chan bool, 1)
	go func() {
		_, ok := sub.Recv()
		done <- ok
	}()
	sub.Stop()
	require.False(t, <-done)
}

func TestFakeSubscriberInjectBypassesPublisher(t *testing.T) {
	sub := NewFakeSubscriber(1)
	msg, err := message.New("/injected", "info", "a@b", "", nil)
	require.NoError(t, err)
	sub.Inject(msg)

	got, ok := sub.Recv()
	require.True(t, ok)
	require.Equal(t, "/injected", got.Subject)
}
