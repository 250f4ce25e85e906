package broadcaster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestZeroIntervalDisablesBroadcasting(t *testing.T) {
	b := New(Options{Name: "svc", URI: "tcp://host:1234", Interval: 0})
	require.NoError(t, b.Start())
}

func TestBuildMessageCarriesURIAndServices(t *testing.T) {
	b := New(Options{Name: "svc", URI: "tcp://host:1234", Services: []string{"svc"}})
	msg, err := b.buildMessage()
	require.NoError(t, err)
	require.Equal(t, "/address/svc", msg.Subject)

	var body struct {
		URI     string   `json:"URI"`
		Service []string `json:"service"`
		Status  bool     `json:"status"`
	}
	require.NoError(t, msg.JSON(&body))
	require.Equal(t, "tcp://host:1234", body.URI)
	require.Equal(t, []string{"svc"}, body.Service)
	require.True(t, body.Status)
}

func TestStopAfterStartReturnsPromptly(t *testing.T) {
	b := New(Options{Name: "svc", URI: "tcp://host:1234", Interval: time.Hour, MCGroup: "0.0.0.0", Port: 32100})

	done := make(chan error, 1)
	go func() { done <- b.Start() }()

	time.Sleep(20 * time.Millisecond)
	b.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop in time")
	}
}
