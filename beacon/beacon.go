// Package beacon implements the UDP multicast/broadcast transport that
// carries short address-advertisement datagrams between the Address
// Broadcaster and the Address Receiver (spec.md §4.2).
package beacon

import (
	"errors"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const (
	// MaxDatagramSize is the receive buffer size, per spec.md §4.2.
	MaxDatagramSize = 1024

	// DefaultGroup is the default multicast group for beacons.
	DefaultGroup = "225.0.0.212"

	// DefaultPort is the default UDP beacon port, per spec.md §6.
	DefaultPort = 21200

	// DefaultTTL is the default IP_MULTICAST_TTL, per spec.md §4.2.
	DefaultTTL = 31
)

// Errors, per spec.md §7.
var (
	ErrInvalidGroup = errors.New("beacon: multicast group must fall in 224.0.0.0/4")
	ErrTimeout      = errors.New("beacon: receive timed out")
)

func isBroadcastGroup(group string) bool {
	return group == "0.0.0.0" || group == "255.255.255.255" || group == "<broadcast>"
}

func validateGroup(group string) error {
	if isBroadcastGroup(group) {
		return nil
	}
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return ErrInvalidGroup
	}
	// 224.0.0.0/4: first octet in [224, 239].
	b := ip.To4()[0]
	if b < 224 || b > 239 {
		return ErrInvalidGroup
	}
	return nil
}

// Sender transmits encoded beacon datagrams to a multicast group or, for the
// broadcast pseudo-group, as a UDP broadcast.
type Sender struct {
	group       string
	port        int
	ttl         int
	iface       *net.Interface
	conn        *net.UDPConn
	isBroadcast bool
}

// NewSender builds a Sender for group:port. If iface is non-nil, outgoing
// multicast traffic is pinned to that interface via IP_MULTICAST_IF.
func NewSender(group string, port int, iface *net.Interface) (*Sender, error) {
	if group == "" {
		group = DefaultGroup
	}
	if port == 0 {
		port = DefaultPort
	}
	if err := validateGroup(group); err != nil {
		return nil, err
	}

	isBroadcast := isBroadcastGroup(group)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	s := &Sender{group: group, port: port, ttl: DefaultTTL, iface: iface, conn: conn, isBroadcast: isBroadcast}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if isBroadcast {
		var sockErr error
		err = rawConn.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		})
		if err == nil {
			err = sockErr
		}
		if err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(DefaultTTL); err != nil {
			conn.Close()
			return nil, err
		}
		if iface != nil {
			if err := pc.SetMulticastInterface(iface); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}

	return s, nil
}

// Send transmits payload to the configured group:port.
func (s *Sender) Send(payload []byte) error {
	addr := &net.UDPAddr{IP: net.ParseIP(destIP(s)), Port: s.port}
	if s.isBroadcast {
		addr.IP = net.IPv4bcast
	}
	_, err := s.conn.WriteToUDP(payload, addr)
	return err
}

func destIP(s *Sender) string {
	if s.isBroadcast {
		return "255.255.255.255"
	}
	return s.group
}

// Close closes the sender, setting SO_LINGER{1,1} first (spec.md §4.2).
func (s *Sender) Close() error {
	setLinger(s.conn)
	return s.conn.Close()
}

// Receiver listens for beacon datagrams on 0.0.0.0:port, optionally joining a
// multicast group.
type Receiver struct {
	conn *net.UDPConn
}

// NewReceiver binds 0.0.0.0:port and joins group unless it is the broadcast
// pseudo-group.
func NewReceiver(group string, port int, iface *net.Interface) (*Receiver, error) {
	if group == "" {
		group = DefaultGroup
	}
	if port == 0 {
		port = DefaultPort
	}
	if err := validateGroup(group); err != nil {
		return nil, err
	}

	if isBroadcastGroup(group) {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			return nil, err
		}
		return &Receiver{conn: conn}, nil
	}

	gaddr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.ListenMulticastUDP("udp4", iface, gaddr)
	if err != nil {
		return nil, err
	}
	return &Receiver{conn: conn}, nil
}

// Recv blocks up to timeout for a datagram.
func (r *Receiver) Recv(timeout time.Duration) ([]byte, net.Addr, error) {
	if timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	buf := make([]byte, MaxDatagramSize)
	n, addr, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// Close closes the receiver, setting SO_LINGER{1,1} first.
func (r *Receiver) Close() error {
	setLinger(r.conn)
	return r.conn.Close()
}

func setLinger(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1})
	})
}
