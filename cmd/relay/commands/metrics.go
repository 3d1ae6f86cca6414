package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ncobase/relay/app"
	"github.com/ncobase/relay/metrics"
	"github.com/spf13/cobra"
)

func newMetricsCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metrics",
		Aliases: []string{"m"},
		Short:   "Query and maintain stored metrics",
		Args:    cobra.NoArgs,
	}

	cmd.AddCommand(
		newMetricsQueryCommand(load),
		newMetricsStatsCommand(load),
		newMetricsCleanupCommand(load),
	)
	return cmd
}

func newMetricsQueryCommand(load loader) *cobra.Command {
	var (
		typ    string
		since  time.Duration
		limit  int64
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "query <name>",
		Short: "Print the records of one metric, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := metrics.Query{Name: args[0], Type: metrics.Type(typ), Limit: limit}
			if since > 0 {
				q.Start = time.Now().Add(-since)
			}
			if len(labels) > 0 {
				q.Labels = make(map[string]string, len(labels))
				for _, l := range labels {
					k, v, ok := strings.Cut(l, "=")
					if !ok || k == "" {
						return fmt.Errorf("invalid label %q, want name=value", l)
					}
					q.Labels[k] = v
				}
			}

			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				recs, err := a.Metrics.Retrieve(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd, recs)
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(metrics.Gauge), "metric type: counter, gauge, histogram or summary")
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this")
	cmd.Flags().Int64Var(&limit, "limit", 0, "maximum number of records")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "label filter name=value, repeatable")
	return cmd
}

func newMetricsStatsCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print record counts per metric",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				st, err := a.Metrics.GetStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func newMetricsCleanupCommand(load loader) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove records older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				age := a.Config.Data.Metrics.Retention
				if cmd.Flags().Changed("max-age") {
					age = maxAge
				}
				n, err := a.Metrics.Cleanup(ctx, age)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", n)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override data.metrics.retention")
	return cmd
}
