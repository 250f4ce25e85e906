package receiver

import (
	"errors"
	"net"
	"time"

	"github.com/pytroll/posttroll-go/beacon"
	"github.com/pytroll/posttroll-go/internal/zsock"
)

// errIngestTimeout is returned by ingestSource.recv when no datagram/request
// arrived within the poll window; the caller treats it as "nothing to do"
// rather than a real error.
var errIngestTimeout = errors.New("receiver: ingest poll timed out")

// ingestSource abstracts over the two ways spec.md §4.5 allows a receiver to
// learn about publishers: listening on UDP beacons, or (when multicast is
// disabled) answering direct REQ/REP registrations on a known port.
type ingestSource interface {
	recv(timeout time.Duration) ([]byte, net.Addr, error)
	close()
}

// newIngest picks the beacon or REQ/REP source per Options.NoMulticast.
func (r *Receiver) newIngest() (ingestSource, error) {
	if r.opts.NoMulticast {
		return newSimpleIngest(r.opts.BroadcastPort, r.opts.SocketOpts)
	}
	return newBeaconIngest(r.opts.MCGroup, r.opts.BroadcastPort, r.opts.MulticastInterface)
}

// beaconIngest wraps a beacon.Receiver as an ingestSource.
type beaconIngest struct {
	recvr *beacon.Receiver
}

func newBeaconIngest(group string, port int, iface *net.Interface) (*beaconIngest, error) {
	if group == "" {
		group = beacon.DefaultGroup
	}
	if port == 0 {
		port = beacon.DefaultPort
	}
	br, err := beacon.NewReceiver(group, port, iface)
	if err != nil {
		return nil, err
	}
	return &beaconIngest{recvr: br}, nil
}

func (b *beaconIngest) recv(timeout time.Duration) ([]byte, net.Addr, error) {
	data, from, err := b.recvr.Recv(timeout)
	if errors.Is(err, beacon.ErrTimeout) {
		return nil, nil, errIngestTimeout
	}
	return data, from, err
}

func (b *beaconIngest) close() { b.recvr.Close() }

// simpleIngest answers direct publisher registrations via REQ/REP on a fixed
// port, used when multicast beaconing is disabled (spec.md §4.5's fallback).
type simpleIngest struct {
	sock *zsock.Socket
	poll *zsock.Receiver
}

func newSimpleIngest(port int, socketOpts zsock.Options) (*simpleIngest, error) {
	if port == 0 {
		port = beacon.DefaultPort
	}
	endpoint := tcpAnyPort(port)
	sock, _, _, err := zsock.ServerSocket(zsock.Rep, endpoint, socketOpts, zsock.PortRange{})
	if err != nil {
		return nil, err
	}
	poller := zsock.NewReceiver()
	poller.Register(sock)
	return &simpleIngest{sock: sock, poll: poller}, nil
}

func (s *simpleIngest) recv(timeout time.Duration) ([]byte, net.Addr, error) {
	msg, sock, err := s.poll.Recv(timeout)
	if errors.Is(err, zsock.ErrTimeout) {
		return nil, nil, errIngestTimeout
	}
	if err != nil {
		return nil, nil, err
	}
	_ = sock.Send("ack")
	encoded, encErr := msg.Encode()
	if encErr != nil {
		return nil, nil, encErr
	}
	return []byte(encoded), nil, nil
}

func (s *simpleIngest) close() { zsock.Close(s.sock) }

func tcpAnyPort(port int) string {
	return "tcp://*:" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
