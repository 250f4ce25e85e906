package subscriber

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/internal/zsock"
	"github.com/pytroll/posttroll-go/message"
)

// addressListener hooks a SUB socket onto an address receiver's local feed
// and adds/removes uris on sub as they're advertised or expired, per
// original_source/posttroll/subscriber.py's _AddressListener.
type addressListener struct {
	sub      *Subscriber
	services []string
}

func startAddressListener(sub *Subscriber, services []string, nameserver string, port int) error {
	if nameserver == "" {
		nameserver = "localhost"
	}
	if port <= 0 {
		port = 16543
	}
	al := &addressListener{sub: sub, services: services}
	uri := fmt.Sprintf("tcp://%s:%d", nameserver, port)
	return sub.AddHookSub(zsock.Sub, uri, al.handleMsg)
}

func (al *addressListener) handleMsg(msg *message.Message) {
	var body struct {
		URI     string   `json:"URI"`
		Service []string `json:"service"`
		Status  *bool    `json:"status"`
	}
	if err := msg.JSON(&body); err != nil {
		log.Warn().Err(err).Msg("address listener: bad address body")
		return
	}
	status := true
	if body.Status != nil {
		status = *body.Status
	}

	if !status {
		if err := al.sub.Remove(body.URI); err != nil {
			log.Warn().Err(err).Str("uri", body.URI).Msg("address listener: failed to remove uri")
		}
		return
	}

	if len(al.services) == 0 {
		if err := al.sub.Add(body.URI); err != nil {
			log.Warn().Err(err).Str("uri", body.URI).Msg("address listener: failed to add uri")
		}
		return
	}
	for _, want := range al.services {
		if want == "" || containsString(body.Service, want) {
			if err := al.sub.Add(body.URI); err != nil {
				log.Warn().Err(err).Str("uri", body.URI).Msg("address listener: failed to add uri")
			}
			break
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
