package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttv3"
	"github.com/vitalvas/mqttv3/extensions/router"
)

func newSubCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sub [FILTER...]",
		Short: "Subscribe and print messages",
		Long: `Subscribe to each FILTER (default "#") and print every message as
"topic: payload" until interrupted, then unsubscribe and disconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := args
			if len(filters) == 0 {
				filters = []string{"#"}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.subscribe(ctx, cmd.OutOrStdout(), filters)
		},
	}
}

func (a *app) subscribe(ctx context.Context, out io.Writer, filters []string) error {
	for _, filter := range filters {
		if err := mqttv3.ValidateTopicFilter(filter); err != nil {
			return fmt.Errorf("filter %q: %w", filter, err)
		}
	}

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}

	r := router.New()
	for _, filter := range filters {
		r.Handle(printer(out), router.WithTopic(filter))
	}

	results, err := client.Subscribe(ctx, r.Subscriptions(a.qos())...)
	if err != nil {
		return errors.Join(err, disconnect(client))
	}
	for _, res := range results {
		if res.Failed {
			a.logger.Warn("subscription rejected", mqttv3.LogFields{mqttv3.LogFieldTopic: res.TopicFilter})
		}
	}

	serveErr := r.Serve(ctx, client.Events(), func(e mqttv3.Event) {
		if d, ok := e.(mqttv3.DisconnectedEvent); ok && d.Err != nil {
			a.logger.Warn("connection lost", mqttv3.LogFields{mqttv3.LogFieldError: d.Err})
		}
	})
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	// The events channel must keep draining while the exit handshake runs.
	go func() {
		for range client.Events() {
		}
	}()

	exitCtx, cancel := context.WithTimeout(context.Background(), exitTimeout)
	defer cancel()

	var unsubErr error
	if client.IsConnected() {
		unsubErr = client.Unsubscribe(exitCtx, filters...)
	}
	return errors.Join(serveErr, unsubErr, disconnect(client))
}

func printer(out io.Writer) router.Handler {
	topic := color.New(color.FgCyan).SprintFunc()
	return func(msg *mqttv3.Message) {
		payload := msg.Payload
		if !utf8.Valid(payload) {
			payload = nil
		}
		fmt.Fprintf(out, "%s: %s\n", topic(msg.Topic), payload)
	}
}
