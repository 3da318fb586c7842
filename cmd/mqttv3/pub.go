package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttv3"
)

func newPubCommand(a *app) *cobra.Command {
	var (
		count  int
		retain bool
	)

	cmd := &cobra.Command{
		Use:   "pub TOPIC [PAYLOAD]",
		Short: "Publish a message",
		Long: `Publish PAYLOAD to TOPIC, --count times.

Without PAYLOAD every line read from standard input is published as one
message, stopping after --count lines when it is set.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			if err := mqttv3.ValidateTopicName(topic); err != nil {
				return fmt.Errorf("topic %q: %w", topic, err)
			}

			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}

			var payloads func(yield func([]byte) bool) error
			if len(args) == 2 {
				payloads = repeat([]byte(args[1]), max(count, 1))
			} else {
				payloads = lines(a, count)
			}

			pubErr := publishAll(cmd.Context(), client, topic, payloads, a.qos(), retain)
			return errors.Join(pubErr, disconnect(client))
		},
	}

	cmd.Flags().IntVarP(&count, "count", "C", 0, "number of messages to publish")
	cmd.Flags().BoolVarP(&retain, "retain", "r", false, "ask the broker to retain the message")
	return cmd
}

func publishAll(ctx context.Context, client *mqttv3.Client, topic string, payloads func(yield func([]byte) bool) error, qos mqttv3.QoS, retain bool) error {
	var pubErr error
	err := payloads(func(payload []byte) bool {
		pubErr = client.Publish(ctx, topic, payload, qos, retain)
		return pubErr == nil
	})
	if pubErr != nil {
		return pubErr
	}
	return err
}

func repeat(payload []byte, n int) func(yield func([]byte) bool) error {
	return func(yield func([]byte) bool) error {
		for range n {
			if !yield(payload) {
				return nil
			}
		}
		return nil
	}
}

// lines yields stdin lines, at most limit when limit is positive.
func lines(a *app, limit int) func(yield func([]byte) bool) error {
	return func(yield func([]byte) bool) error {
		scanner := bufio.NewScanner(a.stdin)
		for n := 0; limit <= 0 || n < limit; n++ {
			if !scanner.Scan() {
				break
			}
			if !yield([]byte(strings.TrimRight(scanner.Text(), "\r"))) {
				return nil
			}
		}
		return scanner.Err()
	}
}
