/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tubeshelf/accounts/internal/events"
	"github.com/tubeshelf/accounts/internal/mq"
	"github.com/tubeshelf/accounts/types"
)

// eventsCmd groups account event tooling.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect account events",
}

var tailGroup string

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print account events as JSON lines until interrupted",
	Long: `Print account events as JSON lines until interrupted.

Without --group the command reads a private copy of the event stream and
leaves other consumers untouched. With --group it joins that consumer group
and takes its share of the group's durable feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := setup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is none, nothing to tail")
		}
		defer broker.Close()

		log.Info("tailing account events",
			"topic", cfg.MQ.AccountChannel,
			"backend", cfg.MQ.Backend,
			"group", tailGroup,
		)
		encoder := json.NewEncoder(os.Stdout)
		err = events.NewPublisher(broker, cfg.MQ.AccountChannel).Listen(ctx, tailGroup, func(_ context.Context, event types.AccountEvent) error {
			return encoder.Encode(event)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("tail events: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
	eventsTailCmd.Flags().StringVar(&tailGroup, "group", "", "consumer group to join instead of a private stream")
}
