package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, BackendUnsecureZMQ, cfg.Backend)
	require.Equal(t, 21200, cfg.BroadcastPort)
	require.Equal(t, 16543, cfg.AddressPublishPort)
	require.Equal(t, 5557, cfg.NameserverPort)
}

func TestLegacyEnvVarsOverrideDefaults(t *testing.T) {
	os.Setenv("PYTROLL_MC_GROUP", "225.1.1.1")
	os.Setenv("NAMESERVER_PORT", "7000")
	defer os.Unsetenv("PYTROLL_MC_GROUP")
	defer os.Unsetenv("NAMESERVER_PORT")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "225.1.1.1", cfg.MCGroup)
	require.Equal(t, 7000, cfg.NameserverPort)
}

func TestPrefixedEnvVarsOverrideDefaults(t *testing.T) {
	os.Setenv("PYTROLL_NAMESERVERPORT", "9999")
	defer os.Unsetenv("PYTROLL_NAMESERVERPORT")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.NameserverPort)
}
