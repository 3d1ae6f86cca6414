package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ncobase/relay/app"
	"github.com/ncobase/relay/pubsub"
	"github.com/spf13/cobra"
)

func newPublishCommand(load loader) *cobra.Command {
	var (
		msgType  string
		priority string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish <channel> <json>",
		Short: "Publish one message and print the publication",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any = args[1]
			if json.Valid([]byte(args[1])) {
				payload = json.RawMessage(args[1])
			}

			opts := []pubsub.PublishOption{
				pubsub.WithType(msgType),
				pubsub.WithPriority(pubsub.Priority(priority)),
			}
			if timeout > 0 {
				opts = append(opts, pubsub.WithExpiration(timeout))
			}

			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				pub, err := a.Relay.Publish(ctx, args[0], payload, opts...)
				if err != nil {
					return err
				}
				return printJSON(cmd, pub)
			})
		},
	}
	cmd.Flags().StringVar(&msgType, "type", pubsub.DefaultMessageType, "envelope type")
	cmd.Flags().StringVar(&priority, "priority", string(pubsub.PriorityNormal), "low, normal or high")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "publication timeout (default from config)")
	return cmd
}
