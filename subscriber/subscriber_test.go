package subscriber

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pytroll/posttroll-go/message"
)

func TestMagickfyAddsPrefixOnce(t *testing.T) {
	require.Equal(t, message.Magic+"/scene", magickfy("scene"))
	require.Equal(t, message.Magic+"/scene", magickfy(message.Magic+"/scene"))
}

func TestMagickfyLeadingSlashGetsNoExtraSlash(t *testing.T) {
	require.Equal(t, message.Magic+"/scene", magickfy("/scene"))
}

func TestMagickfyEmptyTopicIsBareMagic(t *testing.T) {
	require.Equal(t, message.Magic, magickfy(""))
}

func TestSubscribeRequiresServicesWithNameservers(t *testing.T) {
	_, err := Subscribe(Config{Nameservers: []string{"tcp://host:5557"}})
	require.ErrorIs(t, err, ErrConfig)
}

func TestNewSubscriberAppliesTopicFilters(t *testing.T) {
	s := New([]string{"scene-a", "scene-b"}, false)
	require.Equal(t, []string{message.Magic + "/scene-a", message.Magic + "/scene-b"}, s.topics)
}

func TestHostFromURIStripsSchemeAndPort(t *testing.T) {
	require.Equal(t, "somehost", hostFromURI("tcp://somehost:9000"))
	require.Equal(t, "1.2.3.4", hostFromURI("tcp://1.2.3.4:9000"))
}

func TestContainsStringExactMatchOnly(t *testing.T) {
	require.True(t, containsString([]string{"a", "scene"}, "scene"))
	require.False(t, containsString([]string{"scene-extra"}, "scene"))
}
