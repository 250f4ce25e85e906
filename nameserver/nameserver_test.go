package nameserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
	"github.com/pytroll/posttroll-go/receiver"
)

func TestRecordsToBodyCarriesURIServiceStatus(t *testing.T) {
	records := []receiver.AddressRecord{
		{URI: "tcp://host:1", ServiceNames: []string{"svc-a"}, Status: true},
	}

	body := recordsToBody(records)

	require.Len(t, body, 1)
	require.Equal(t, "tcp://host:1", body[0]["URI"])
	require.Equal(t, []string{"svc-a"}, body[0]["service"])
	require.Equal(t, true, body[0]["status"])
}

func TestHandleEchoesRequestVersion(t *testing.T) {
	n := New(Options{})

	const endpoint = "inproc://nameserver-version-echo"
	server, _, _, err := zsock.ServerSocket(zsock.Rep, endpoint, zsock.Options{}, zsock.PortRange{})
	require.NoError(t, err)
	defer zsock.Close(server)
	client, err := zsock.ClientSocket(zsock.Req, endpoint, zsock.Options{})
	require.NoError(t, err)
	defer zsock.Close(client)

	req, err := message.New("/oper/ns", "request", "client@host", message.MimeJSON, map[string]any{"service": ""})
	require.NoError(t, err)
	req.Version = "v1.01"
	encoded, err := req.Encode()
	require.NoError(t, err)
	require.NoError(t, client.Send(encoded))

	serverPoll := zsock.NewReceiver()
	serverPoll.Register(server)
	got, replySock, err := serverPoll.Recv(time.Second)
	require.NoError(t, err)
	n.handle(got, replySock)

	clientPoll := zsock.NewReceiver()
	clientPoll.Register(client)
	reply, _, err := clientPoll.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, "v1.01", reply.Version)
}

func TestFederatedRecordRoundTrip(t *testing.T) {
	in := []receiver.AddressRecord{{URI: "tcp://host:1", ServiceNames: []string{"a", "b"}, Status: true}}
	encoded, err := encodeFederatedRecords(in)
	require.NoError(t, err)

	out, err := decodeFederatedRecords(encoded)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "tcp://host:1", out[0].URI)
	require.Equal(t, []string{"a", "b"}, out[0].ServiceNames)
	require.True(t, out[0].Status)
}
