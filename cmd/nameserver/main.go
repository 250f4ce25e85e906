// Command nameserver runs the REP discovery service of spec.md §4.6,
// aggregating addresses from an embedded receiver.Receiver and answering
// service lookups over REQ/REP.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pytroll/posttroll-go/config"
	"github.com/pytroll/posttroll-go/nameserver"
	"github.com/pytroll/posttroll-go/receiver"
)

func main() {
	var (
		logPath     string
		verbose     bool
		noMulticast bool
		localOnly   bool
	)

	cmd := &cobra.Command{
		Use:          "nameserver",
		Short:        "nameserver answers publisher address lookups over REQ/REP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logPath, verbose, noMulticast, localOnly)
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "write logs to this file instead of stderr")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	cmd.Flags().BoolVar(&noMulticast, "no-multicast", false, "use direct REQ/REP registration instead of UDP beacons")
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "only accept address registrations from localhost")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(logPath string, verbose, noMulticast, localOnly bool) error {
	configureLogging(logPath, verbose)

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	socketOpts := cfg.SocketOptions()

	rcv := receiver.New(receiver.Options{
		MCGroup:           cfg.MCGroup,
		BroadcastPort:     cfg.BroadcastPort,
		RestrictLocalhost: localOnly,
		NoMulticast:       noMulticast,
		SocketOpts:        socketOpts,
	})

	ns := nameserver.New(nameserver.Options{
		Port:       cfg.NameserverPort,
		Receiver:   rcv,
		SocketOpts: socketOpts,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- rcv.Start() }()
	go func() { errCh <- ns.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("nameserver: shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("nameserver: component exited with error")
		}
	}

	ns.Stop()
	rcv.Stop()
	return nil
}

func configureLogging(logPath string, verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if logPath == "" {
		return
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn().Err(err).Str("path", logPath).Msg("nameserver: failed to open log file, using stderr")
		return
	}
	log.Logger = log.Output(f)
}
