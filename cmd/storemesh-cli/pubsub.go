package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

func newPublishCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "publish <channel> <message>",
		Short: "Publish a message and print how many subscribers received it",
		Long: `Publish a message on a channel. The message is sent as-is unless --json is
given, in which case it is parsed and must be a JSON object or array.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg any = args[1]
			if asJSON {
				var v any
				if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
					return fmt.Errorf("invalid JSON message: %w", err)
				}
				msg = v
			}
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				n, err := inst.Publish(ctx, args[0], msg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Parse the message as a JSON object or array")
	return cmd
}

type received struct {
	channel string
	msg     message.Payload
}

func newListenCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "listen <channel> [channel...]",
		Short: "Print messages published on channels",
		Long: `Listen on one or more channels and print each message as "<channel> <payload>".
Structured payloads are printed as compact JSON. Press Ctrl+C to stop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, false, func(ctx context.Context, inst storemesh.Instance) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return runListen(ctx, cmd, inst, args, count)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 for no limit)")
	return cmd
}

func runListen(ctx context.Context, cmd *cobra.Command, inst storemesh.Instance, channels []string, count int) error {
	// Deliveries arrive on the instance's goroutine; printing happens here.
	messages := make(chan received, 64)
	for _, ch := range channels {
		ch := ch
		_, err := inst.Listen(ctx, ch, func(msg message.Payload) {
			select {
			case messages <- received{channel: ch, msg: msg}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", ch, err)
		}
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-messages:
			text, err := formatPayload(r.msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", r.channel, text)
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}

func formatPayload(p message.Payload) (string, error) {
	switch t := p.(type) {
	case message.Raw:
		return string(t), nil
	case message.Structured:
		b, err := json.Marshal(t.Value)
		if err != nil {
			return "", fmt.Errorf("failed to format message: %w", err)
		}
		return string(b), nil
	default:
		return fmt.Sprint(p), nil
	}
}

func newWaitReadyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wait-ready",
		Short: "Wait until the store is ready, or fail after --ready-timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				if err := inst.AwaitConnection(ctx); err != nil {
					return err
				}
				health, err := inst.Health(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", health.State, health.Target)
				return nil
			})
		},
	}
}
