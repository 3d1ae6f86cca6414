package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ncobase/relay/app"
	"github.com/ncobase/relay/cache"
	"github.com/spf13/cobra"
)

type cacheFlags struct {
	namespace string
	ttl       time.Duration
	persist   bool
}

func (f *cacheFlags) options(cmd *cobra.Command) []cache.EntryOption {
	var opts []cache.EntryOption
	if cmd.Flags().Changed("namespace") {
		opts = append(opts, cache.WithNamespace(f.namespace))
	}
	return opts
}

func newCacheCommand(load loader) *cobra.Command {
	f := &cacheFlags{}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and modify cache entries",
		Args:  cobra.NoArgs,
	}
	cmd.PersistentFlags().StringVarP(&f.namespace, "namespace", "n", "", "cache namespace (default from config)")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				res, err := a.Cache.Get(ctx, args[0], f.options(cmd)...)
				if err != nil {
					return err
				}
				if res == nil {
					return fmt.Errorf("key %q not found", args[0])
				}
				if !res.IsJSON() {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Raw())
					return err
				}
				return printJSON(cmd, json.RawMessage(res.Bytes()))
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a value; non-JSON input is stored as a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any = args[1]
			if json.Valid([]byte(args[1])) {
				value = json.RawMessage(args[1])
			}
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				opts := f.options(cmd)
				switch {
				case f.persist:
					opts = append(opts, cache.WithoutExpiry())
				case cmd.Flags().Changed("ttl"):
					opts = append(opts, cache.WithTTL(f.ttl))
				}
				return a.Cache.Set(ctx, args[0], value, opts...)
			})
		},
	}
	set.Flags().DurationVar(&f.ttl, "ttl", 0, "time to live (default from config)")
	set.Flags().BoolVar(&f.persist, "persist", false, "store without expiry")

	del := &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete"},
		Short:   "Delete a cached value",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				return a.Cache.Delete(ctx, args[0], f.options(cmd)...)
			})
		},
	}

	has := &cobra.Command{
		Use:   "has <key>",
		Short: "Report whether a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				ok, err := a.Cache.Has(ctx, args[0], f.options(cmd)...)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), ok)
				return err
			})
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key of a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				ns := a.Config.Cache.Namespace
				if cmd.Flags().Changed("namespace") {
					ns = f.namespace
				}
				if all {
					ns = ""
				} else if ns == "" {
					return errors.New("refusing to flush the whole database without --all")
				}
				opts := []cache.EntryOption{cache.WithNamespace(ns)}
				n, err := a.Cache.Clear(ctx, opts...)
				if err != nil {
					return err
				}
				if n < 0 {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "flushed")
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d keys\n", n)
				return err
			})
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "flush the whole database")

	cmd.AddCommand(get, set, del, has, clearCmd)
	return cmd
}
