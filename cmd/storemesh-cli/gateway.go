package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/httpclient"
)

// gatewayOptions are shared by the gateway subcommands
type gatewayOptions struct {
	server   string
	clientID string
}

func newGatewayCommand() *cobra.Command {
	opts := &gatewayOptions{}

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Talk to a running StoreMesh gateway over HTTP",
		Long: `Commands under gateway go through the HTTP API of a storemesh server
instead of connecting to the store directly.`,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "Gateway base URL")
	flags.StringVar(&opts.clientID, "client-id", "storemesh-cli", "Client ID to log in as")

	cmd.AddCommand(newGatewayHealthCommand(opts))
	cmd.AddCommand(newGatewayStatsCommand(opts))
	cmd.AddCommand(newGatewayEventsCommand(opts))
	cmd.AddCommand(newGatewayTailCommand(opts))
	return cmd
}

// connect creates a gateway client and logs in unless anonymous is set
func (o *gatewayOptions) connect(ctx context.Context, anonymous bool) (*httpclient.Client, error) {
	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: o.server,
		ClientID:  o.clientID,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, err
	}
	if anonymous {
		return client, nil
	}
	if _, err := client.Authenticate(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newGatewayHealthCommand(opts *gatewayOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print gateway health; fails when the gateway is not healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.connect(ctx, true)
			if err != nil {
				return err
			}
			health, err := client.GetHealth(ctx)
			if health != nil {
				if perr := printJSON(cmd, health); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newGatewayStatsCommand(opts *gatewayOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print gateway statistics (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.connect(ctx, false)
			if err != nil {
				return err
			}
			stats, err := client.AdminGetStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newGatewayEventsCommand(opts *gatewayOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recent lifecycle events, oldest first (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.connect(ctx, false)
			if err != nil {
				return err
			}
			resp, err := client.AdminGetEvents(ctx, limit)
			if err != nil {
				return err
			}
			for _, e := range resp.Events {
				line := fmt.Sprintf("%s %-8s %-12s #%d", e.Timestamp.Format("15:04:05.000"), e.Source, e.Event, e.Offset)
				if e.Detail != "" {
					line += " " + e.Detail
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events (0 for the gateway default)")
	return cmd
}

func newGatewayTailCommand(opts *gatewayOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "tail <channel>",
		Short: "Stream messages published on a channel through the gateway",
		Long: `Stream a channel over Server-Sent Events and print each message as
"<channel> <payload>". Runs until interrupted or until --count messages were printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := opts.connect(ctx, false)
			if err != nil {
				return err
			}
			stream, err := client.Stream(ctx, args[0], httpclient.StreamConfig{})
			if err != nil {
				return err
			}
			defer stream.Close()

			errs := stream.Errors()
			seen := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				case msg, ok := <-stream.Messages():
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.Channel, msg.Text())
					seen++
					if count > 0 && seen >= count {
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 for no limit)")
	return cmd
}
