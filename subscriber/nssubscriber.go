package subscriber

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
)

// nsPollInterval is how often NSSubscriber re-queries its nameservers for
// newly registered publishers, per spec.md §4.8.
const nsPollInterval = time.Second

// NSSubscriber wraps a Subscriber whose set of connected URIs is kept in
// sync with one or more nameservers, resolved by service name.
type NSSubscriber struct {
	*Subscriber

	nameservers []string
	services    []string
	timeout     time.Duration

	addrListener       bool
	nameserverHost     string
	addressPublishPort int

	stopPoll chan struct{}
	polling  bool
}

// NewNSSubscriber builds an NSSubscriber from cfg. Call Start to begin
// periodic re-resolution; refresh() alone performs a single resolution pass.
func NewNSSubscriber(cfg Config) *NSSubscriber {
	timeout := cfg.NSTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NSSubscriber{
		Subscriber:         NewWithSocketOptions(cfg.Topics, cfg.Translate, cfg.SocketOpts),
		nameservers:        cfg.Nameservers,
		services:           cfg.Services,
		timeout:            timeout,
		addrListener:       cfg.AddrListener,
		nameserverHost:     cfg.Nameserver,
		addressPublishPort: cfg.AddressPublishPort,
		stopPoll:           make(chan struct{}),
		polling:            true,
	}
}

// Start hooks up the address listener (if configured), performs an initial
// resolution pass, then polls the nameservers every second, adding newly
// discovered URIs as they appear, up to Timeout total. Non-fatal on partial
// results: a nameserver that never answers simply contributes no URIs. Call
// it from its own goroutine; use Stop to interrupt it early.
func (ns *NSSubscriber) Start() {
	if ns.addrListener {
		if err := startAddressListener(ns.Subscriber, ns.services, ns.nameserverHost, ns.addressPublishPort); err != nil {
			log.Warn().Err(err).Msg("nssubscriber: failed to start address listener")
		}
	}

	if err := ns.refresh(); err != nil {
		log.Warn().Err(err).Msg("nssubscriber: nameserver poll failed")
	}

	deadline := time.Now().Add(ns.timeout)
	ticker := time.NewTicker(nsPollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ns.stopPoll:
			return
		case <-ticker.C:
			if err := ns.refresh(); err != nil {
				log.Warn().Err(err).Msg("nssubscriber: nameserver poll failed")
			}
		}
	}
}

// Stop halts polling (if running) and closes the underlying Subscriber.
func (ns *NSSubscriber) Stop() {
	if ns.polling {
		close(ns.stopPoll)
	}
	ns.Subscriber.Stop()
}

type nsRecord struct {
	URI     string   `json:"URI"`
	Service []string `json:"service"`
	Status  bool     `json:"status"`
}

// refresh queries every configured nameserver once, for each configured
// service, and Add()s any URI not already connected. Errors from individual
// nameservers are logged and do not abort the remaining queries.
func (ns *NSSubscriber) refresh() error {
	var lastErr error
	for _, nsAddr := range ns.nameservers {
		for _, service := range ns.services {
			records, err := queryNameserver(nsAddr, service, ns.socketOpts)
			if err != nil {
				lastErr = err
				log.Warn().Err(err).Str("nameserver", nsAddr).Str("service", service).Msg("nssubscriber: query failed")
				continue
			}
			for _, rec := range records {
				if !rec.Status {
					continue
				}
				if err := ns.Add(rec.URI); err != nil {
					log.Warn().Err(err).Str("uri", rec.URI).Msg("nssubscriber: failed to connect resolved uri")
				}
			}
		}
	}
	return lastErr
}

func queryNameserver(nsAddr, service string, socketOpts zsock.Options) ([]nsRecord, error) {
	sock, err := zsock.ClientSocket(zsock.Req, nsAddr, socketOpts)
	if err != nil {
		return nil, err
	}
	defer zsock.Close(sock)

	req, err := message.New("/oper/ns", "request", "subscriber@local", message.MimeJSON, map[string]any{"service": service})
	if err != nil {
		return nil, err
	}
	encoded, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := sock.Send(encoded); err != nil {
		return nil, err
	}

	poller := zsock.NewReceiver()
	poller.Register(sock)
	reply, _, err := poller.Recv(2 * time.Second)
	if err != nil {
		return nil, err
	}

	var records []nsRecord
	if err := reply.JSON(&records); err != nil {
		return nil, err
	}
	return records, nil
}
