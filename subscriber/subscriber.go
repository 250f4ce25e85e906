// Package subscriber implements the pub/sub receiving side: per-uri SUB
// sockets with topic-prefix filters, optional hook sockets, an address
// listener that adds/removes uris as the nameserver or receiver reports them,
// and an NSSubscriber that resolves uris from a nameserver by service name
// (spec.md §4.8).
package subscriber

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
)

// ErrConfig is returned by Subscribe on an inconsistent Config, per spec.md §4.8.
var ErrConfig = errors.New("subscriber: nameserves requires at least one service name")

// magickfy normalizes a bare topic into the full pytroll-prefixed form. A
// topic that already carries the magic prefix passes through unchanged; an
// empty topic normalizes to the bare magic prefix (spec.md §9 open question:
// "empty-topic normalization"). A topic that already starts with "/" is
// appended directly to the magic prefix; one that doesn't gets an extra "/"
// inserted, per original_source/posttroll/subscriber.py's _magickfy_topics.
func magickfy(topic string) string {
	if topic == "" {
		return message.Magic
	}
	if len(topic) >= len(message.Magic) && topic[:len(message.Magic)] == message.Magic {
		return topic
	}
	if topic[0] == '/' {
		return message.Magic + topic
	}
	return message.Magic + "/" + topic
}

// hostFromURI extracts the bare host from a "tcp://host:port"-shaped URI, for
// translate mode's Sender rewrite.
func hostFromURI(uri string) string {
	rest := uri
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// Subscriber receives Messages from one or more PUB endpoints, applying a set
// of topic filters.
type Subscriber struct {
	mu      sync.Mutex
	socks   map[string]*zsock.Socket // uri -> SUB socket
	sockURI map[*zsock.Socket]string // SUB socket -> uri, for translate mode
	topics  []string                 // magickfied filters applied to every SUB socket
	poller  *zsock.Receiver
	hookCbs map[*zsock.Socket]func(*message.Message)

	translate bool

	socketOpts zsock.Options

	stopCh chan chan struct{}
}

// New builds a Subscriber with the given topic filters (each magickfied).
func New(topics []string, translate bool) *Subscriber {
	return NewWithSocketOptions(topics, translate, zsock.Options{})
}

// NewWithSocketOptions builds a Subscriber whose SUB/hook sockets carry the
// given keepalive/CURVE settings, typically config.Config.SocketOptions().
func NewWithSocketOptions(topics []string, translate bool, socketOpts zsock.Options) *Subscriber {
	magicked := make([]string, len(topics))
	for i, t := range topics {
		magicked[i] = magickfy(t)
	}
	return &Subscriber{
		socks:      map[string]*zsock.Socket{},
		sockURI:    map[*zsock.Socket]string{},
		topics:     magicked,
		poller:     zsock.NewReceiver(),
		hookCbs:    map[*zsock.Socket]func(*message.Message){},
		translate:  translate,
		socketOpts: socketOpts,
		stopCh:     make(chan chan struct{}),
	}
}

// Add connects a SUB socket to uri and applies the subscriber's topic
// filters. Adding a uri that is already connected is a no-op.
func (s *Subscriber) Add(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.socks[uri]; exists {
		return nil
	}

	sock, err := zsock.ClientSocket(zsock.Sub, uri, s.socketOpts)
	if err != nil {
		return err
	}
	if err := s.applyFilters(sock); err != nil {
		zsock.Close(sock)
		return err
	}

	s.socks[uri] = sock
	s.sockURI[sock] = uri
	s.poller.Register(sock)
	return nil
}

// applyFilters subscribes sock to every configured topic, using the exact
// same magickfy() normalization Add and AddHookSub both go through — closing
// the divergent-normalization bug spec.md §9 calls out.
func (s *Subscriber) applyFilters(sock *zsock.Socket) error {
	if len(s.topics) == 0 {
		return sock.Subscribe(magickfy(""))
	}
	for _, t := range s.topics {
		if err := sock.Subscribe(t); err != nil {
			return err
		}
	}
	return nil
}

// Remove disconnects and unregisters the SUB socket for uri.
func (s *Subscriber) Remove(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sock, ok := s.socks[uri]
	if !ok {
		return nil
	}
	s.poller.Unregister(sock)
	delete(s.socks, uri)
	delete(s.sockURI, sock)
	delete(s.hookCbs, sock)
	return zsock.Close(sock)
}

// AddHookSub registers a raw hook socket (PULL or SUB) whose messages are
// delivered to cb instead of through Recv, applying the same magickfy
// normalization as Add when kind is Sub.
func (s *Subscriber) AddHookSub(kind zsock.SocketKind, uri string, cb func(*message.Message)) error {
	sock, err := zsock.ClientSocket(kind, uri, s.socketOpts)
	if err != nil {
		return err
	}
	if kind == zsock.Sub {
		if err := s.applyFilters(sock); err != nil {
			zsock.Close(sock)
			return err
		}
	}

	s.mu.Lock()
	s.hookCbs[sock] = cb
	s.mu.Unlock()

	s.poller.Register(sock)
	return nil
}

// Recv blocks up to timeout for the next message. A hook-socket message is
// dispatched to its callback instead of returned, and Recv then returns
// zsock.ErrTimeout without waiting further.
func (s *Subscriber) Recv(timeout time.Duration) (*message.Message, error) {
	msg, sock, err := s.poller.Recv(timeout)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cb, isHook := s.hookCbs[sock]
	s.mu.Unlock()

	if isHook {
		cb(msg)
		return nil, zsock.ErrTimeout
	}

	if s.translate {
		s.mu.Lock()
		uri, ok := s.sockURI[sock]
		s.mu.Unlock()
		if ok {
			if host := hostFromURI(uri); host != "" {
				msg.Sender = msg.User() + "@" + host
			}
		}
	}
	return msg, nil
}

// Stop closes every socket owned by this subscriber.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri, sock := range s.socks {
		zsock.Close(sock)
		delete(s.socks, uri)
		delete(s.sockURI, sock)
	}
	for sock := range s.hookCbs {
		zsock.Close(sock)
		delete(s.hookCbs, sock)
	}
}

// Config selects and configures the subscriber shape Subscribe returns.
type Config struct {
	URIs     []string
	Topics   []string
	Services []string // required when Nameservers is non-empty

	Nameservers []string
	NSTimeout   time.Duration

	// AddrListener, when set, hooks into the address receiver's local feed
	// at tcp://Nameserver:AddressPublishPort so newly advertised (or expired)
	// publishers are added to (or removed from) the subscriber as they're
	// seen, without waiting for the next timed re-poll (spec.md §4.8,
	// original_source/posttroll/subscriber.py's _AddressListener).
	AddrListener       bool
	Nameserver         string // plain host for the address listener, default "localhost"
	AddressPublishPort int    // default 16543, matches receiver.Options.Port's default

	Translate bool

	// SocketOpts carries keepalive/CURVE settings onto every SUB/REQ socket
	// this subscriber opens, typically config.Config.SocketOptions().
	SocketOpts zsock.Options
}

// Subscribe is the factory named in spec.md §4.8: a bare Subscriber over the
// explicit URIs iff Nameservers is empty; otherwise an NSSubscriber that
// resolves URIs by polling the nameservers for Services.
func Subscribe(cfg Config) (interface {
	Recv(time.Duration) (*message.Message, error)
	Stop()
}, error) {
	if len(cfg.Nameservers) == 0 {
		sub := NewWithSocketOptions(cfg.Topics, cfg.Translate, cfg.SocketOpts)
		for _, uri := range cfg.URIs {
			if err := sub.Add(uri); err != nil {
				sub.Stop()
				return nil, err
			}
		}
		return sub, nil
	}

	if len(cfg.Services) == 0 {
		return nil, ErrConfig
	}

	ns := NewNSSubscriber(cfg)
	go ns.Start()
	return ns, nil
}
