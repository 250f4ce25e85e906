// Package zsock is a thin abstraction over github.com/pebbe/zmq4 offering the
// PUB/SUB/REQ/REP/PULL/PUSH socket shapes used by the pub/sub and discovery
// layers, random-port binding, optional CURVE authentication, and TCP
// keepalive knobs. It is the "socket layer" of spec.md §4.3.
package zsock

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/pytroll/posttroll-go/internal/optional"
)

// SocketKind enumerates the socket shapes this layer offers.
type SocketKind int

const (
	Pub SocketKind = iota
	Sub
	Req
	Rep
	Pull
	Push
)

func (k SocketKind) zmqType() zmq.Type {
	switch k {
	case Pub:
		return zmq.PUB
	case Sub:
		return zmq.SUB
	case Req:
		return zmq.REQ
	case Rep:
		return zmq.REP
	case Pull:
		return zmq.PULL
	case Push:
		return zmq.PUSH
	default:
		panic("zsock: unknown socket kind")
	}
}

// ErrTimeout is returned by Receiver.Recv when nothing arrived before the deadline.
var ErrTimeout = errors.New("zsock: timed out waiting for a message")

// ErrAuth is returned when CURVE key material is missing or invalid.
var ErrAuth = errors.New("zsock: invalid or missing CURVE key material")

// ErrTransport wraps an underlying socket failure.
type ErrTransport struct{ Err error }

func (e *ErrTransport) Error() string { return fmt.Sprintf("zsock: transport error: %v", e.Err) }
func (e *ErrTransport) Unwrap() error { return e.Err }

// PortRange is the [Min, Max) interval random-port binding draws from.
type PortRange struct {
	Min, Max int
}

// DefaultPortRange matches spec.md §4.3's default.
var DefaultPortRange = PortRange{Min: 49152, Max: 65536}

// Options configures a socket beyond its kind and endpoint.
type Options struct {
	Curve *CurveOptions

	// TCP keepalive knobs; undefined means "leave OS default" per spec.md §4.3.
	// 0 is itself a meaningful libzmq setting (disable keepalive), so a bare
	// *int can't distinguish "unset" from "explicitly zero" — Optional[int] can.
	TCPKeepalive      optional.Optional[int]
	TCPKeepaliveCnt   optional.Optional[int]
	TCPKeepaliveIdle  optional.Optional[int]
	TCPKeepaliveIntvl optional.Optional[int]
}

// CurveOptions carries the key material needed for CURVE-authenticated sockets.
type CurveOptions struct {
	// Server-side.
	ServerSecretKey string
	ClientKeysDir   string

	// Client-side.
	ClientSecretKey string
	ServerPublicKey string

	// Additive list of addresses the shared Authenticator should allow.
	AuthorizedAddresses []string
}

var theContext *contextHandle

type contextHandle struct {
	mu  sync.Mutex
	ctx *zmq.Context
	pid int
}

// context returns the process-wide ZMQ context, rebuilding it if the pid has
// changed since creation (spec.md §5's "recreate across a fork" rule).
func context() (*zmq.Context, error) {
	if theContext == nil {
		theContext = &contextHandle{}
	}
	theContext.mu.Lock()
	defer theContext.mu.Unlock()

	pid := os.Getpid()
	if theContext.ctx == nil || theContext.pid != pid {
		ctx, err := zmq.NewContext()
		if err != nil {
			return nil, &ErrTransport{Err: err}
		}
		theContext.ctx = ctx
		theContext.pid = pid
	}
	return theContext.ctx, nil
}

// Socket wraps a *zmq.Socket with the kind it was created as.
type Socket struct {
	kind SocketKind
	zsoc *zmq.Socket
}

// Raw exposes the underlying zmq socket for callers in this module that need
// operations zsock doesn't wrap (e.g. SetSubscribe topic filters).
func (s *Socket) Raw() *zmq.Socket { return s.zsoc }

// Subscribe adds a SUB topic filter. No-op for non-SUB sockets.
func (s *Socket) Subscribe(topic string) error {
	if s.kind != Sub {
		return nil
	}
	return s.zsoc.SetSubscribe(topic)
}

// Send transmits a single-frame message.
func (s *Socket) Send(payload string) error {
	_, err := s.zsoc.Send(payload, 0)
	if err != nil {
		return &ErrTransport{Err: err}
	}
	return nil
}

// Connect connects a client socket to endpoint.
func (s *Socket) Connect(endpoint string) error {
	if err := s.zsoc.Connect(endpoint); err != nil {
		return &ErrTransport{Err: err}
	}
	return nil
}

// Close sets LINGER=1 and closes the socket, per spec.md §4.3.
func Close(s *Socket) error {
	if s == nil || s.zsoc == nil {
		return nil
	}
	_ = s.zsoc.SetLinger(1)
	return s.zsoc.Close()
}

func newSocket(kind SocketKind) (*Socket, error) {
	ctx, err := context()
	if err != nil {
		return nil, err
	}
	zs, err := ctx.NewSocket(kind.zmqType())
	if err != nil {
		return nil, &ErrTransport{Err: err}
	}
	return &Socket{kind: kind, zsoc: zs}, nil
}

func applyOptions(s *Socket, opts Options) error {
	if opts.TCPKeepalive.IsDefined() {
		_ = s.zsoc.SetTcpKeepalive(opts.TCPKeepalive.Get())
	}
	if opts.TCPKeepaliveCnt.IsDefined() {
		_ = s.zsoc.SetTcpKeepaliveCnt(opts.TCPKeepaliveCnt.Get())
	}
	if opts.TCPKeepaliveIdle.IsDefined() {
		_ = s.zsoc.SetTcpKeepaliveIdle(opts.TCPKeepaliveIdle.Get())
	}
	if opts.TCPKeepaliveIntvl.IsDefined() {
		_ = s.zsoc.SetTcpKeepaliveIntvl(opts.TCPKeepaliveIntvl.Get())
	}
	if opts.Curve != nil {
		if err := applyServerCurve(s, opts.Curve); err != nil {
			return err
		}
	}
	return nil
}

func applyClientOptions(s *Socket, opts Options) error {
	if opts.TCPKeepalive.IsDefined() {
		_ = s.zsoc.SetTcpKeepalive(opts.TCPKeepalive.Get())
	}
	if opts.TCPKeepaliveCnt.IsDefined() {
		_ = s.zsoc.SetTcpKeepaliveCnt(opts.TCPKeepaliveCnt.Get())
	}
	if opts.TCPKeepaliveIdle.IsDefined() {
		_ = s.zsoc.SetTcpKeepaliveIdle(opts.TCPKeepaliveIdle.Get())
	}
	if opts.TCPKeepaliveIntvl.IsDefined() {
		_ = s.zsoc.SetTcpKeepaliveIntvl(opts.TCPKeepaliveIntvl.Get())
	}
	if opts.Curve != nil {
		if err := applyClientCurve(s, opts.Curve); err != nil {
			return err
		}
	}
	return nil
}

// ServerSocket binds a socket of the given kind. If endpoint's port is 0, a
// random free port in portRange is chosen and returned.
func ServerSocket(kind SocketKind, endpoint string, opts Options, portRange PortRange) (*Socket, int, *Authenticator, error) {
	s, err := newSocket(kind)
	if err != nil {
		return nil, 0, nil, err
	}

	var auth *Authenticator
	if opts.Curve != nil {
		auth, err = sharedAuthenticator(opts.Curve.ClientKeysDir)
		if err != nil {
			Close(s)
			return nil, 0, nil, err
		}
		auth.Allow(opts.Curve.AuthorizedAddresses...)
	}

	if err := applyOptions(s, opts); err != nil {
		Close(s)
		return nil, 0, nil, err
	}

	host, explicitPort, hasPort := splitEndpointPort(endpoint)
	if (hasPort && explicitPort != 0) || !strings.HasPrefix(endpoint, "tcp://") {
		if err := s.zsoc.Bind(endpoint); err != nil {
			Close(s)
			return nil, 0, nil, &ErrTransport{Err: err}
		}
		return s, explicitPort, auth, nil
	}

	port, err := bindRandomPort(s, host, portRange)
	if err != nil {
		Close(s)
		return nil, 0, nil, err
	}
	return s, port, auth, nil
}

// ClientSocket connects a socket of the given kind to endpoint.
func ClientSocket(kind SocketKind, endpoint string, opts Options) (*Socket, error) {
	s, err := newSocket(kind)
	if err != nil {
		return nil, err
	}
	if err := applyClientOptions(s, opts); err != nil {
		Close(s)
		return nil, err
	}
	if err := s.Connect(endpoint); err != nil {
		Close(s)
		return nil, err
	}
	return s, nil
}

func bindRandomPort(s *Socket, host string, pr PortRange) (int, error) {
	if pr.Max <= pr.Min {
		pr = DefaultPortRange
	}
	span := pr.Max - pr.Min
	// Try every port of the range once, in random order, so occupied ports are
	// skipped (spec.md §8 scenario 6's "tolerate occupied ports" requirement).
	order := rand.Perm(span)
	var lastErr error
	for _, offset := range order {
		port := pr.Min + offset
		ep := fmt.Sprintf("%s:%d", host, port)
		if err := s.zsoc.Bind(ep); err == nil {
			return port, nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no free port in range [%d,%d)", pr.Min, pr.Max)
	}
	return 0, &ErrTransport{Err: lastErr}
}

// splitEndpointPort extracts "tcp://host:port" -> (scheme://host, port, ok).
// Non-TCP endpoints (ipc://, inproc://) report hasPort=false so callers bind
// them as-is without port-range logic, matching spec.md §4.6's "including
// non-TCP schemes, for testing" allowance.
func splitEndpointPort(endpoint string) (string, int, bool) {
	const scheme = "tcp://"
	if len(endpoint) < len(scheme) || endpoint[:len(scheme)] != scheme {
		return endpoint, 0, false
	}
	rest := endpoint[len(scheme):]
	idx := lastColon(rest)
	if idx < 0 {
		return endpoint, 0, false
	}
	host := scheme + rest[:idx]
	portStr := rest[idx+1:]
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return endpoint, 0, false
	}
	return host, port, true
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
