package nameserver

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/receiver"
)

// federatedRecord is the wire shape mirrored between nameservers. It is
// CBOR-encoded rather than carried as a pytroll text Message, since it is a
// binary blob exchanged purely between peer nameservers, never inspected by
// an application subscriber.
type federatedRecord struct {
	URI          string
	ServiceNames []string
	Status       bool
}

// Federation pushes a nameserver's registry snapshot to a set of peer
// nameservers over a PUSH socket (EXPANSION, spec.md §4.6). Only the sending
// side is wired: no Nameserver in this module reads or merges a peer's
// snapshot.
type Federation struct {
	Peers    []string
	Interval time.Duration // default 5s
}

func (f *Federation) interval() time.Duration {
	if f.Interval <= 0 {
		return 5 * time.Second
	}
	return f.Interval
}

func (f *Federation) run(r *receiver.Receiver) {
	if r == nil || len(f.Peers) == 0 {
		return
	}

	sockets := make([]*zsock.Socket, 0, len(f.Peers))
	for _, peer := range f.Peers {
		sock, err := zsock.ClientSocket(zsock.Push, peer, zsock.Options{})
		if err != nil {
			log.Warn().Err(err).Str("peer", peer).Msg("nameserver federation: failed to connect")
			continue
		}
		sockets = append(sockets, sock)
	}
	defer func() {
		for _, s := range sockets {
			zsock.Close(s)
		}
	}()

	ticker := time.NewTicker(f.interval())
	defer ticker.Stop()

	for range ticker.C {
		records := r.Get("")
		payload, err := encodeFederatedRecords(records)
		if err != nil {
			log.Warn().Err(err).Msg("nameserver federation: failed to encode snapshot")
			continue
		}
		for _, s := range sockets {
			if err := s.Send(string(payload)); err != nil {
				log.Warn().Err(err).Msg("nameserver federation: send failed")
			}
		}
	}
}

func encodeFederatedRecords(records []receiver.AddressRecord) ([]byte, error) {
	out := make([]federatedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, federatedRecord{URI: r.URI, ServiceNames: r.ServiceNames, Status: r.Status})
	}
	return cbor.Marshal(out)
}

// decodeFederatedRecords is used by a PULL-side listener (not wired into the
// Nameserver's own serve loop in this module, but exercised directly by
// tests and available for a consumer that wants to merge a peer's snapshot).
func decodeFederatedRecords(payload []byte) ([]federatedRecord, error) {
	var out []federatedRecord
	err := cbor.Unmarshal(payload, &out)
	return out, err
}
