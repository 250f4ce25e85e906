// Package nameserver implements the REQ/REP discovery service: clients ask
// for publishers matching a service name, the nameserver answers from its own
// registry of addresses learned via an embedded receiver.Receiver (spec.md
// §4.6).
package nameserver

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
	"github.com/pytroll/posttroll-go/receiver"
)

// pollTimeout is how long each REP poll waits before looping to check stopCh,
// per spec.md §4.6.
const pollTimeout = time.Second

// Options configures a Nameserver.
type Options struct {
	Port int // default 5557, per spec.md §6

	Receiver *receiver.Receiver // source of truth for known addresses

	// Federate, when set, mirrors the registry to peer nameservers. Nil by
	// default (EXPANSION, zero behavior change otherwise).
	Federate *Federation

	// SocketOpts carries keepalive/CURVE settings onto the REP socket,
	// typically config.Config.SocketOptions().
	SocketOpts zsock.Options
}

// Nameserver answers address lookups over REQ/REP.
type Nameserver struct {
	opts   Options
	stopCh chan chan struct{}
}

// New builds a Nameserver; call Start to begin serving.
func New(opts Options) *Nameserver {
	if opts.Port == 0 {
		opts.Port = 5557
	}
	return &Nameserver{opts: opts, stopCh: make(chan chan struct{})}
}

// Stop halts the serve loop and waits for it to exit.
func (n *Nameserver) Stop() {
	done := make(chan struct{})
	n.stopCh <- done
	<-done
}

type request struct {
	Service string `json:"service"`
}

// Start binds the REP socket and serves requests until Stop is called. It
// blocks; call from its own goroutine.
func (n *Nameserver) Start() error {
	sock, port, _, err := zsock.ServerSocket(zsock.Rep, "tcp://*:"+strconv.Itoa(n.opts.Port), n.opts.SocketOpts, zsock.PortRange{})
	if err != nil {
		return err
	}
	defer zsock.Close(sock)
	log.Info().Int("port", port).Msg("nameserver listening")

	poller := zsock.NewReceiver()
	poller.Register(sock)

	if n.opts.Federate != nil {
		go n.opts.Federate.run(n.opts.Receiver)
	}

	for {
		select {
		case done := <-n.stopCh:
			close(done)
			return nil
		default:
		}

		msg, replySock, err := poller.Recv(pollTimeout)
		if err != nil {
			if err != zsock.ErrTimeout {
				log.Warn().Err(err).Msg("nameserver: poll error")
			}
			continue
		}

		n.handle(msg, replySock)
	}
}

func (n *Nameserver) handle(msg *message.Message, sock *zsock.Socket) {
	var req request
	if msg.MimeType == message.MimeJSON {
		_ = msg.JSON(&req)
	} else {
		req.Service = msg.Text()
	}

	var records []receiver.AddressRecord
	if n.opts.Receiver != nil {
		records = n.opts.Receiver.Get(req.Service)
	}

	reply, err := message.New("/oper/ns", "info", "nameserver@local", message.MimeJSON, recordsToBody(records))
	if err != nil {
		log.Warn().Err(err).Msg("nameserver: failed to build reply")
		return
	}
	reply.Version = msg.Version // echo the request's version, per spec.md §4.6

	encoded, err := reply.Encode()
	if err != nil {
		log.Warn().Err(err).Msg("nameserver: failed to encode reply")
		return
	}
	if err := sock.Send(encoded); err != nil {
		log.Warn().Err(err).Msg("nameserver: failed to send reply")
	}
}

func recordsToBody(records []receiver.AddressRecord) []map[string]any {
	body := make([]map[string]any, 0, len(records))
	for _, r := range records {
		body = append(body, map[string]any{
			"URI":     r.URI,
			"service": r.ServiceNames,
			"status":  r.Status,
		})
	}
	return body
}
