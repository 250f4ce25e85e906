// Command pub is a thin demonstration publisher, mirroring the shape of the
// teacher's cmd/pro: it advertises a service and publishes lines read from
// stdin as text/ascii messages on a fixed subject.
package main

import (
	"bufio"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pytroll/posttroll-go/message"
	"github.com/pytroll/posttroll-go/publisher"
)

func main() {
	var (
		name    string
		subject string
		port    int
	)

	cmd := &cobra.Command{
		Use:          "pub",
		Short:        "pub publishes stdin lines as pytroll messages",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(name, subject, port)
		},
	}

	cmd.Flags().StringVar(&name, "name", "pub-demo", "service name to advertise")
	cmd.Flags().StringVar(&subject, "subject", "/demo", "subject to publish on")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (0 = random)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(name, subject string, port int) error {
	pub, err := publisher.Publish(publisher.Config{
		Name:              name,
		Port:              port,
		Services:          []string{name},
		BroadcastInterval: 2 * time.Second,
	})
	if err != nil {
		return err
	}
	defer pub.Stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg, err := message.New(subject, "info", name+"@local", message.MimeText, scanner.Text())
		if err != nil {
			log.Warn().Err(err).Msg("pub: failed to build message")
			continue
		}
		if err := pub.Send(msg); err != nil {
			log.Warn().Err(err).Msg("pub: send failed")
		}
	}
	return scanner.Err()
}
