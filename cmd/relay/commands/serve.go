package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncobase/relay/app"
	"github.com/ncobase/relay/config"
	"github.com/ncobase/relay/ctxutil"
	"github.com/ncobase/relay/logging/logger"
	"github.com/spf13/cobra"
)

func newServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run retention and memory sampling until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return err
			}

			if cfg.Viper.ConfigFileUsed() != "" {
				config.Watch(cfg, func(next *config.Config) {
					logger.Infof(ctx, "config %s changed; restart to apply", next.Viper.ConfigFileUsed())
				}, func(err error) {
					logger.Warnf(ctx, "ignoring config change: %v", err)
				})
			}

			<-ctx.Done()
			stopCtx, cancel := ctxutil.WithAsyncContext(ctx, 10*time.Second)
			defer cancel()
			logger.Infof(stopCtx, "shutting down")
			return a.Stop(stopCtx)
		},
	}
}
