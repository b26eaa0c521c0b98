package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vango-dev/ghostwatch/internal/errors"
	"github.com/vango-dev/ghostwatch/pkg/client"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

func clientCmd() *cobra.Command {
	var (
		url      string
		channel  string
		framing  string
		count    int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and print decoded messages",
		Long: `Connect to a ghostwatch stream and print each decoded message on its
own line. Dictionary updates are followed automatically.

Examples:
  ghostwatch client
  ghostwatch client --url ws://localhost:8080/ws --channel main_room
  ghostwatch client --count 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := protocol.ParseFraming(framing)
			if err != nil {
				return errors.New("E121").Wrap(err)
			}
			logger, err := newLogger(os.Stderr, logLevel, "text")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, cmd.OutOrStdout(), client.Config{
				URL:     url,
				Channel: channel,
				Framing: f,
				Logger:  logger,
			}, count)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "ws://localhost:8080/ws", "WebSocket endpoint")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel to join (default: server default)")
	cmd.Flags().StringVar(&framing, "framing", "tagged", "Data framing: tagged or out-of-band")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many messages (0 runs until interrupted)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	return cmd
}

// runClient prints messages to out until ctx is done, the connection drops,
// or count messages have arrived.
func runClient(ctx context.Context, out io.Writer, cfg client.Config, count int) error {
	enough := make(chan struct{})
	seen := 0

	c, err := client.Dial(ctx, cfg, func(m client.Message) {
		if count > 0 && seen >= count {
			return
		}
		fmt.Fprintf(out, "v%d %s\n", m.Version, m.Data)
		seen++
		if count > 0 && seen == count {
			close(enough)
		}
	})
	if err != nil {
		return errors.New("E132").Wrap(err)
	}
	defer c.Close()

	select {
	case <-ctx.Done():
	case <-enough:
	case <-c.Done():
		if err := c.Err(); err != nil {
			return errors.New("E132").Wrap(err)
		}
	}
	return nil
}
