// Command sub is a thin demonstration subscriber, mirroring the shape of the
// teacher's cmd/cons: it resolves a service via one or more nameservers and
// prints every message it receives.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pytroll/posttroll-go/subscriber"
)

func main() {
	var (
		service     string
		nameservers []string
		uris        []string
	)

	cmd := &cobra.Command{
		Use:          "sub",
		Short:        "sub prints pytroll messages matching a service or uri set",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(service, nameservers, uris)
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "service name to resolve via --nameserver")
	cmd.Flags().StringSliceVar(&nameservers, "nameserver", nil, "nameserver endpoint(s), e.g. tcp://host:5557")
	cmd.Flags().StringSliceVar(&uris, "uri", nil, "explicit publisher uri(s) to connect to directly")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(service string, nameservers, uris []string) error {
	cfg := subscriber.Config{URIs: uris}
	if len(nameservers) > 0 {
		cfg.Nameservers = nameservers
		cfg.Services = []string{service}
	}

	sub, err := subscriber.Subscribe(cfg)
	if err != nil {
		return err
	}
	defer sub.Stop()

	for {
		msg, err := sub.Recv(5 * time.Second)
		if err != nil {
			log.Debug().Err(err).Msg("sub: recv timed out, retrying")
			continue
		}
		fmt.Println(msg.Subject, msg.Sender, msg.Text())
	}
}
