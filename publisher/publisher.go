// Package publisher implements the pub/sub sending side: a bare Publisher
// binds a PUB socket and sends pytroll Messages; a NoisyPublisher composes a
// Publisher with a broadcaster.Broadcaster so its address is discoverable
// (spec.md §4.7).
package publisher

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/broadcaster"
	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
)

// ErrConfig is returned by Publish when Config is inconsistent, per
// spec.md §4.7.
var ErrConfig = errors.New("publisher: a name is required when advertising via nameservers or broadcast")

// Config selects and configures the publisher shape Publish returns.
type Config struct {
	Name     string
	Port     int // explicit bind port; 0 means "pick randomly"
	Services []string

	// Nameservers, when non-empty, marks this publisher as needing
	// discoverability (forces NoisyPublisher).
	Nameservers []string

	BroadcastInterval time.Duration
	MCGroup           string
	BroadcastPort     int

	MinHeartbeatInterval time.Duration

	// SocketOpts carries keepalive/CURVE settings onto the PUB socket,
	// typically config.Config.SocketOptions().
	SocketOpts zsock.Options
}

// Publisher sends Messages on a PUB socket.
type Publisher struct {
	mu   sync.Mutex
	sock *zsock.Socket
	port int
	name string

	lastSend time.Time
}

// New binds a PUB socket. If port<=0 a random free port is chosen. name is
// used in the /heartbeat/<name> subject Heartbeat sends; it may be empty.
func New(name string, port int, socketOpts zsock.Options) (*Publisher, error) {
	endpoint := "tcp://*:0"
	if port > 0 {
		endpoint = "tcp://*:" + strconv.Itoa(port)
	}
	sock, bound, _, err := zsock.ServerSocket(zsock.Pub, endpoint, socketOpts, zsock.PortRange{})
	if err != nil {
		return nil, err
	}
	return &Publisher{sock: sock, port: bound, name: name}, nil
}

// Port returns the bound PUB port.
func (p *Publisher) Port() int { return p.port }

// Send encodes and publishes msg.
func (p *Publisher) Send(msg *message.Message) error {
	encoded, err := msg.Encode()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sock.Send(encoded); err != nil {
		return err
	}
	p.lastSend = time.Now()
	return nil
}

// Heartbeat sends a "/heartbeat/<name>" beat message carrying minInterval if
// nothing has been sent in the last minInterval, keeping slow publishers
// visible to subscribers that watch for liveness (spec.md §4.7,
// original_source/posttroll/publisher.py's _PublisherHeartbeat).
func (p *Publisher) Heartbeat(minInterval time.Duration) error {
	p.mu.Lock()
	idle := time.Since(p.lastSend)
	p.mu.Unlock()
	if minInterval > 0 && idle < minInterval {
		return nil
	}
	msg, err := message.New("/heartbeat/"+p.name, "beat", "publisher@"+p.name, message.MimeJSON, map[string]any{
		"min_interval": minInterval.Seconds(),
	})
	if err != nil {
		return err
	}
	return p.Send(msg)
}

// Stop closes the underlying socket.
func (p *Publisher) Stop() error {
	return zsock.Close(p.sock)
}

// NoisyPublisher composes a Publisher with a Broadcaster so its address is
// advertised over beacons (or direct registration with designated
// receivers), per spec.md §4.7.
type NoisyPublisher struct {
	*Publisher
	bc *broadcaster.Broadcaster
}

// Stop stops both the broadcaster and the underlying Publisher.
func (np *NoisyPublisher) Stop() error {
	np.bc.Stop()
	return np.Publisher.Stop()
}

// Publish is the factory named in spec.md §4.7: a bare Publisher is returned
// iff cfg.Port>0 and no nameservers are configured; otherwise a
// NoisyPublisher is built, which requires cfg.Name.
func Publish(cfg Config) (interface {
	Send(*message.Message) error
	Stop() error
}, error) {
	if cfg.Port > 0 && len(cfg.Nameservers) == 0 {
		return New(cfg.Name, cfg.Port, cfg.SocketOpts)
	}

	if cfg.Name == "" {
		return nil, ErrConfig
	}

	pub, err := New(cfg.Name, cfg.Port, cfg.SocketOpts)
	if err != nil {
		return nil, err
	}

	bc := broadcaster.New(broadcaster.Options{
		Name:                cfg.Name,
		URI:                 "tcp://" + outboundIP() + ":" + strconv.Itoa(pub.Port()),
		Services:            cfg.Services,
		Interval:            cfg.BroadcastInterval,
		MCGroup:             cfg.MCGroup,
		Port:                cfg.BroadcastPort,
		DesignatedReceivers: cfg.Nameservers,
	})

	go func() {
		if err := bc.Start(); err != nil {
			log.Warn().Err(err).Msg("noisy publisher: broadcaster exited with error")
		}
	}()

	return &NoisyPublisher{Publisher: pub, bc: bc}, nil
}

// outboundIP returns the host's outward-facing IP, grounded on
// original_source/posttroll/publisher.py's get_own_ip: dial a UDP "connection"
// (no packets sent) and read back the local address the kernel would route
// through. Falls back to "127.0.0.1" if the host has no route at all.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
