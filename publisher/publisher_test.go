package publisher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRequiresNameWhenNameserversConfigured(t *testing.T) {
	_, err := Publish(Config{Nameservers: []string{"tcp://host:5557"}})
	require.ErrorIs(t, err, ErrConfig)
}

func TestOutboundIPReturnsNonEmptyAddress(t *testing.T) {
	// Either a routable local address or the documented fallback; never empty.
	require.NotEmpty(t, outboundIP())
}
