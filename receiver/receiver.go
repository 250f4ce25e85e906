// Package receiver implements the Address Receiver: it aggregates beacons
// (and, when multicast is disabled, direct REQ/REP registrations) into a
// registry of live publishers with TTL expiry, and republishes add/remove
// events on a local PUB socket (spec.md §4.5).
//
// The registry is owned by a single goroutine (the ingest loop); external
// Get/Stop calls are request/response messages over channels, not a shared
// mutex — this is the message-passing actor spec.md §9's redesign flags ask
// for in place of a lock-guarded map.
package receiver

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
)

// DefaultMaxAge is the default eviction TTL, per spec.md §3.
const DefaultMaxAge = 10 * time.Minute

// Options configures a Receiver.
type Options struct {
	MaxAge             time.Duration
	Port               int // local PUB port, default 16543
	MCGroup            string
	BroadcastPort      int
	MulticastInterface *net.Interface
	RestrictLocalhost  bool
	NoMulticast        bool // use the simple REQ/REP receiver instead of UDP beacons

	// SocketOpts carries keepalive/CURVE settings onto the local PUB socket
	// and the simple-receiver REP socket, typically config.Config.SocketOptions().
	SocketOpts zsock.Options
}

// Receiver aggregates address beacons into a live registry.
type Receiver struct {
	opts Options

	getCh  chan getRequest
	stopCh chan chan struct{}

	pubSock *zsock.Socket
}

type getRequest struct {
	name  string
	reply chan []AddressRecord
}

// New creates a Receiver; call Start to begin the ingest loop.
func New(opts Options) *Receiver {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Port == 0 {
		opts.Port = 16543
	}
	return &Receiver{
		opts:   opts,
		getCh:  make(chan getRequest),
		stopCh: make(chan chan struct{}),
	}
}

// Get returns the current registry snapshot, filtered by substring over any
// service name (empty matches all). Safe to call concurrently with Start.
func (r *Receiver) Get(name string) []AddressRecord {
	reply := make(chan []AddressRecord, 1)
	r.getCh <- getRequest{name: name, reply: reply}
	return <-reply
}

// Stop signals the ingest loop to exit and waits for it to do so.
func (r *Receiver) Stop() {
	done := make(chan struct{})
	r.stopCh <- done
	<-done
}

// Start binds the local PUB socket and runs the ingest loop until Stop is
// called. It blocks; call it from its own goroutine.
func (r *Receiver) Start() error {
	pubSock, port, _, err := zsock.ServerSocket(zsock.Pub, tcpAnyPort(r.opts.Port), r.opts.SocketOpts, zsock.PortRange{})
	if err != nil {
		return err
	}
	r.pubSock = pubSock
	log.Info().Int("port", port).Msg("address receiver publishing on local PUB socket")

	recv, err := r.newIngest()
	for attempt := 0; attempt < 3 && errors.Is(err, syscall.ENODEV); attempt++ {
		log.Warn().Err(err).Msg("address receiver: no multicast device, retrying in 10s")
		time.Sleep(10 * time.Second)
		recv, err = r.newIngest()
	}
	if err != nil {
		zsock.Close(pubSock)
		return err
	}
	defer recv.close()
	defer zsock.Close(pubSock)

	reg := newRegistry()
	lastSweep := time.Time{}
	sweepEvery := r.opts.MaxAge / 20

	for {
		select {
		case done := <-r.stopCh:
			close(done)
			return nil
		case req := <-r.getCh:
			req.reply <- reg.snapshot(req.name)
		default:
		}

		data, from, err := recv.recv(2 * time.Second)
		now := time.Now()

		if err == nil {
			r.ingest(reg, data, from, now)
		} else if err != errIngestTimeout {
			log.Warn().Err(err).Msg("address receiver: ingest error")
		}

		if now.Sub(lastSweep) >= sweepEvery {
			lastSweep = now
			for _, evicted := range reg.evictOlderThan(r.opts.MaxAge, now) {
				r.publishRemoval(evicted)
			}
		}
	}
}

func (r *Receiver) ingest(reg *registry, data []byte, from net.Addr, now time.Time) {
	if r.opts.RestrictLocalhost && !isLocalAddr(from) {
		return
	}

	msg, err := message.Decode(string(data))
	if err != nil {
		log.Debug().Err(err).Msg("address receiver: dropping undecodable datagram")
		return
	}
	if !strings.HasPrefix(msg.Subject, "/address/") {
		return
	}

	var body struct {
		URI     string   `json:"URI"`
		Service []string `json:"service"`
	}
	if err := msg.JSON(&body); err != nil {
		log.Debug().Err(err).Msg("address receiver: bad beacon body")
		return
	}

	name := strings.TrimPrefix(msg.Subject, "/address/")
	_, isNew := reg.upsert(body.URI, name, body.Service, now)
	if isNew {
		r.publishAdd(body.URI, name, body.Service)
	}
}

func (r *Receiver) publishAdd(uri, name string, services []string) {
	m, err := message.New("/address/"+name, "info", "receiver@"+hostname(), message.MimeJSON, map[string]any{
		"URI":     uri,
		"service": services,
		"status":  true,
	})
	if err != nil {
		return
	}
	r.publish(m)
}

func (r *Receiver) publishRemoval(rec AddressRecord) {
	m, err := message.New("/address/"+rec.Name, "info", "receiver@"+hostname(), message.MimeJSON, map[string]any{
		"URI":     rec.URI,
		"service": rec.ServiceNames,
		"status":  false,
	})
	if err != nil {
		return
	}
	log.Info().Str("uri", rec.URI).Msg("address receiver: evicting expired publisher")
	r.publish(m)
}

func (r *Receiver) publish(m *message.Message) {
	encoded, err := m.Encode()
	if err != nil {
		return
	}
	_ = r.pubSock.Send(encoded)
}

func isLocalAddr(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if ok && ipNet.IP.Equal(udpAddr.IP) {
			return true
		}
	}
	return false
}

func hostname() string {
	h, err := net.LookupAddr("127.0.0.1")
	if err == nil && len(h) > 0 {
		return h[0]
	}
	return "localhost"
}
