// Package broadcaster implements the Address Broadcaster: it periodically
// advertises a publisher's address by UDP beacon and, when given a list of
// designated receivers, falls back to direct REQ/REP registration with each
// of them instead (spec.md §4.4).
package broadcaster

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/beacon"
	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
)

// Options configures a Broadcaster.
type Options struct {
	Name     string   // service name advertised under subject "/address/<name>"
	URI      string   // the publisher endpoint being advertised
	Services []string // service names carried in the beacon body

	Interval time.Duration // <=0 disables periodic sending entirely

	MCGroup            string
	Port               int
	MulticastInterface *net.Interface

	// DesignatedReceivers, when non-empty, bypasses multicast beaconing
	// entirely in favor of direct REQ/REP registration with each address.
	DesignatedReceivers []string

	// SocketOpts carries keepalive/CURVE settings onto the REQ sockets used
	// in designated-receivers mode, typically config.Config.SocketOptions().
	SocketOpts zsock.Options
}

// Broadcaster periodically advertises a publisher's address.
type Broadcaster struct {
	opts   Options
	stopCh chan chan struct{}
}

// New builds a Broadcaster; call Start to begin advertising.
func New(opts Options) *Broadcaster {
	return &Broadcaster{opts: opts, stopCh: make(chan chan struct{})}
}

// Stop halts the broadcast loop and waits for it to exit. When Interval<=0
// there is no loop and Stop returns at once.
func (b *Broadcaster) Stop() {
	if b.opts.Interval <= 0 {
		return
	}
	done := make(chan struct{})
	b.stopCh <- done
	<-done
}

// Start runs the broadcast loop until Stop is called. When Interval<=0 it
// returns immediately without sending anything (spec.md §4.4's "Interval<=0
// disables" rule). It blocks; call from its own goroutine.
func (b *Broadcaster) Start() error {
	if b.opts.Interval <= 0 {
		log.Info().Msg("broadcaster: interval<=0, advertising disabled")
		return nil
	}

	if len(b.opts.DesignatedReceivers) > 0 {
		return b.runDesignated()
	}
	return b.runMulticast()
}

func (b *Broadcaster) buildMessage() (*message.Message, error) {
	return message.New("/address/"+b.opts.Name, "info", "broadcaster@"+b.opts.Name, message.MimeJSON, map[string]any{
		"URI":     b.opts.URI,
		"service": b.opts.Services,
		"status":  true,
	})
}

func (b *Broadcaster) runMulticast() error {
	sender, err := b.dialSenderWithRetry()
	if err != nil {
		return err
	}
	defer sender.Close()

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case done := <-b.stopCh:
			close(done)
			return nil
		case <-ticker.C:
			msg, err := b.buildMessage()
			if err != nil {
				log.Warn().Err(err).Msg("broadcaster: failed to build beacon message")
				continue
			}
			encoded, err := msg.Encode()
			if err != nil {
				log.Warn().Err(err).Msg("broadcaster: failed to encode beacon message")
				continue
			}
			if err := sender.Send([]byte(encoded)); err != nil {
				log.Warn().Err(err).Msg("broadcaster: beacon send failed")
			}
		}
	}
}

// dialSenderWithRetry handles the "network unreachable while bringing up the
// beacon sender" case by retrying once per Interval until it succeeds or a
// non-ENETUNREACH error occurs, per spec.md §4.4.
func (b *Broadcaster) dialSenderWithRetry() (*beacon.Sender, error) {
	for {
		sender, err := beacon.NewSender(b.opts.MCGroup, b.opts.Port, b.opts.MulticastInterface)
		if err == nil {
			return sender, nil
		}
		if !errors.Is(err, syscall.ENETUNREACH) {
			return nil, err
		}
		log.Warn().Err(err).Dur("retry_in", b.opts.Interval).Msg("broadcaster: network unreachable, retrying")
		select {
		case done := <-b.stopCh:
			close(done)
			return nil, err
		case <-time.After(b.opts.Interval):
		}
	}
}

func (b *Broadcaster) runDesignated() error {
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case done := <-b.stopCh:
			close(done)
			return nil
		case <-ticker.C:
			b.registerWithAll()
		}
	}
}

func (b *Broadcaster) registerWithAll() {
	msg, err := b.buildMessage()
	if err != nil {
		log.Warn().Err(err).Msg("broadcaster: failed to build registration message")
		return
	}
	encoded, err := msg.Encode()
	if err != nil {
		log.Warn().Err(err).Msg("broadcaster: failed to encode registration message")
		return
	}

	for _, addr := range b.opts.DesignatedReceivers {
		if err := b.registerWith(addr, encoded); err != nil {
			log.Warn().Err(err).Str("receiver", addr).Msg("broadcaster: direct registration failed")
		}
	}
}

func (b *Broadcaster) registerWith(endpoint, encoded string) error {
	sock, err := zsock.ClientSocket(zsock.Req, endpoint, b.opts.SocketOpts)
	if err != nil {
		return err
	}
	defer zsock.Close(sock)

	if err := sock.Send(encoded); err != nil {
		return err
	}
	return nil
}
