// Package config holds the process-wide configuration keys of spec.md §6,
// loaded via koanf from environment variables and an optional YAML file, the
// way encoredev-encore composes koanf providers for its own process config.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"github.com/pytroll/posttroll-go/internal/optional"
	"github.com/pytroll/posttroll-go/internal/zsock"
)

// Backend selects the socket transport's security mode.
type Backend string

const (
	BackendUnsecureZMQ Backend = "unsecure_zmq"
	BackendSecureZMQ   Backend = "secure_zmq"
)

// Config is the process-wide configuration, spec.md §6's key table.
type Config struct {
	Backend               Backend
	MCGroup               string
	MulticastInterface    string
	BroadcastPort         int
	AddressPublishPort    int
	NameserverPort        int
	PubMinPort            int
	PubMaxPort            int
	TCPKeepalive          int
	TCPKeepaliveCnt       int
	TCPKeepaliveIdle      int
	TCPKeepaliveIntvl     int
	ServerSecretKeyFile   string
	ClientsPublicKeysDir  string
	ClientSecretKeyFile   string
	ServerPublicKeyFile   string
	AuthorizedClientAddrs []string
	MessageVersion        string
}

// Defaults matches the defaults named throughout spec.md.
func Defaults() Config {
	return Config{
		Backend:            BackendUnsecureZMQ,
		MCGroup:            "225.0.0.212",
		BroadcastPort:      21200,
		AddressPublishPort: 16543,
		NameserverPort:     5557,
		PubMinPort:         49152,
		PubMaxPort:         65536,
		MessageVersion:     "v1.2",
	}
}

const envPrefix = "PYTROLL_"

// Load builds a Config from Defaults, overridden by an optional YAML file at
// path (ignored if empty or absent) and then by PYTROLL_-prefixed environment
// variables, honoring the two legacy env vars with a deprecation warning.
func Load(path string) (Config, error) {
	cfg := Defaults()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, err
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		return key, value
	}), nil); err != nil {
		return cfg, err
	}

	applyLegacyEnv(&cfg)
	applyKoanf(&cfg, k)

	return cfg, nil
}

func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("PYTROLL_MC_GROUP"); v != "" {
		log.Warn().Msg("PYTROLL_MC_GROUP is deprecated; use PYTROLL_MCGROUP instead")
		cfg.MCGroup = v
	}
	if v := os.Getenv("NAMESERVER_PORT"); v != "" {
		log.Warn().Msg("NAMESERVER_PORT is deprecated; use PYTROLL_NAMESERVERPORT instead")
		if p, err := strconv.Atoi(v); err == nil {
			cfg.NameserverPort = p
		}
	}
}

func applyKoanf(cfg *Config, k *koanf.Koanf) {
	if v := k.String("backend"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := k.String("mcgroup"); v != "" {
		cfg.MCGroup = v
	}
	if v := k.String("multicastinterface"); v != "" {
		cfg.MulticastInterface = v
	}
	if v := k.Exists("broadcastport"); v {
		cfg.BroadcastPort = k.Int("broadcastport")
	}
	if v := k.Exists("addresspublishport"); v {
		cfg.AddressPublishPort = k.Int("addresspublishport")
	}
	if v := k.Exists("nameserverport"); v {
		cfg.NameserverPort = k.Int("nameserverport")
	}
	if v := k.Exists("pubminport"); v {
		cfg.PubMinPort = k.Int("pubminport")
	}
	if v := k.Exists("pubmaxport"); v {
		cfg.PubMaxPort = k.Int("pubmaxport")
	}
	if v := k.Exists("tcpkeepalive"); v {
		cfg.TCPKeepalive = k.Int("tcpkeepalive")
	}
	if v := k.Exists("tcpkeepalivecnt"); v {
		cfg.TCPKeepaliveCnt = k.Int("tcpkeepalivecnt")
	}
	if v := k.Exists("tcpkeepaliveidle"); v {
		cfg.TCPKeepaliveIdle = k.Int("tcpkeepaliveidle")
	}
	if v := k.Exists("tcpkeepaliveintvl"); v {
		cfg.TCPKeepaliveIntvl = k.Int("tcpkeepaliveintvl")
	}
	if v := k.String("serversecretkeyfile"); v != "" {
		cfg.ServerSecretKeyFile = v
	}
	if v := k.String("clientspublickeysdirectory"); v != "" {
		cfg.ClientsPublicKeysDir = v
	}
	if v := k.String("clientsecretkeyfile"); v != "" {
		cfg.ClientSecretKeyFile = v
	}
	if v := k.String("serverpublickeyfile"); v != "" {
		cfg.ServerPublicKeyFile = v
	}
	if v := k.String("authorizedclientaddresses"); v != "" {
		cfg.AuthorizedClientAddrs = strings.Split(v, ",")
	}
	if v := k.String("messageversion"); v != "" {
		cfg.MessageVersion = v
	}
}

// SocketOptions translates the configured keepalive knobs and CURVE backend
// into zsock.Options, treating a zero knob as "not configured" (distinct
// from explicitly disabling keepalive, which callers do via zsock.Options
// directly rather than through this config's key table).
func (c Config) SocketOptions() zsock.Options {
	opts := zsock.Options{}
	if c.TCPKeepalive != 0 {
		opts.TCPKeepalive = optional.Of(c.TCPKeepalive)
	}
	if c.TCPKeepaliveCnt != 0 {
		opts.TCPKeepaliveCnt = optional.Of(c.TCPKeepaliveCnt)
	}
	if c.TCPKeepaliveIdle != 0 {
		opts.TCPKeepaliveIdle = optional.Of(c.TCPKeepaliveIdle)
	}
	if c.TCPKeepaliveIntvl != 0 {
		opts.TCPKeepaliveIntvl = optional.Of(c.TCPKeepaliveIntvl)
	}

	if c.Backend == BackendSecureZMQ {
		opts.Curve = &zsock.CurveOptions{
			ServerSecretKey:     readKeyFile(c.ServerSecretKeyFile),
			ClientKeysDir:       c.ClientsPublicKeysDir,
			ClientSecretKey:     readKeyFile(c.ClientSecretKeyFile),
			ServerPublicKey:     readKeyFile(c.ServerPublicKeyFile),
			AuthorizedAddresses: c.AuthorizedClientAddrs,
		}
	}

	return opts
}

// readKeyFile returns the trimmed contents of a CURVE key file, or "" if
// path is empty or unreadable (the caller's zsock.Options validation then
// reports ErrAuth, rather than this package wrapping the os error itself).
func readKeyFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config: failed to read CURVE key file")
		return ""
	}
	return strings.TrimSpace(string(data))
}
