package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/storemesh-go/internal/kv"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

// errNotFound is returned by get and get-object for missing keys
var errNotFound = errors.New("key not found")

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				value, found, err := inst.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %s", errNotFound, args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func newSetCommand() *cobra.Command {
	var expire string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := kv.ParseExpiry(expire)
			if err != nil {
				return err
			}
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				if err := inst.Set(ctx, args[0], args[1], ttl); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&expire, "expire", "", "Time to live in whole seconds")
	return cmd
}

func newDelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key> [key...]",
		Short: "Delete keys and print how many existed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				n, err := inst.Delete(ctx, args...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newGetObjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-object <key>",
		Short: "Print the JSON object stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				obj, found, err := inst.GetObject(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %s", errNotFound, args[0])
				}
				return printJSON(cmd, obj)
			})
		},
	}
}

func newSetObjectCommand() *cobra.Command {
	var (
		merge  bool
		expire string
	)

	cmd := &cobra.Command{
		Use:   "set-object <key> <json-object>",
		Short: "Store a JSON object under a key and print what was stored",
		Long: `Store a JSON object under a key. With --merge the object is shallow-merged
over the object already stored; a missing or non-object value is replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var obj message.Object
			if err := json.Unmarshal([]byte(args[1]), &obj); err != nil || obj == nil {
				return fmt.Errorf("value must be a JSON object")
			}
			ttl, err := kv.ParseExpiry(expire)
			if err != nil {
				return err
			}
			return withInstance(cmd, true, func(ctx context.Context, inst storemesh.Instance) error {
				stored, err := inst.SetObject(ctx, args[0], obj, merge, ttl)
				if err != nil {
					return err
				}
				return printJSON(cmd, stored)
			})
		},
	}

	cmd.Flags().BoolVar(&merge, "merge", false, "Merge over the stored object instead of replacing it")
	cmd.Flags().StringVar(&expire, "expire", "", "Time to live in whole seconds")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
