package zsock

import (
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/pytroll/posttroll-go/message"
)

// Receiver multiplexes receive across a set of registered sockets, yielding
// decoded messages as they arrive. It is the Go analogue of posttroll's
// zmq.Poller-backed receive loops (subscriber.py, ns.py).
type Receiver struct {
	poller  *zmq.Poller
	sockets []*Socket
	byItem  map[*zmq.Socket]*Socket
}

// NewReceiver creates an empty Receiver.
func NewReceiver() *Receiver {
	return &Receiver{
		poller: zmq.NewPoller(),
		byItem: map[*zmq.Socket]*Socket{},
	}
}

// Register adds s to the poll set.
func (r *Receiver) Register(s *Socket) {
	r.poller.Add(s.zsoc, zmq.POLLIN)
	r.sockets = append(r.sockets, s)
	r.byItem[s.zsoc] = s
}

// Unregister removes s from the poll set. Rebuilds the poller since zmq4's
// Poller has no direct removal API.
func (r *Receiver) Unregister(s *Socket) {
	kept := r.sockets[:0]
	for _, existing := range r.sockets {
		if existing != s {
			kept = append(kept, existing)
		}
	}
	r.sockets = kept
	delete(r.byItem, s.zsoc)

	r.poller = zmq.NewPoller()
	for _, existing := range r.sockets {
		r.poller.Add(existing.zsoc, zmq.POLLIN)
	}
}

// Recv polls for up to timeout and returns the first decoded message along
// with the socket it arrived on. Returns ErrTimeout if nothing arrived.
func (r *Receiver) Recv(timeout time.Duration) (*message.Message, *Socket, error) {
	if len(r.sockets) == 0 {
		return nil, nil, &ErrTransport{Err: errNoSockets}
	}

	polled, err := r.poller.Poll(timeout)
	if err != nil {
		return nil, nil, &ErrTransport{Err: err}
	}
	if len(polled) == 0 {
		return nil, nil, ErrTimeout
	}

	item := polled[0]
	sock := r.byItem[item.Socket]
	raw, err := item.Socket.Recv(zmq.DONTWAIT)
	if err != nil {
		return nil, sock, &ErrTransport{Err: err}
	}

	msg, err := message.Decode(raw)
	if err != nil {
		return nil, sock, err
	}
	return msg, sock, nil
}

var errNoSockets = transportNoSocketsErr{}

type transportNoSocketsErr struct{}

func (transportNoSocketsErr) Error() string { return "zsock: receiver has no registered sockets" }
