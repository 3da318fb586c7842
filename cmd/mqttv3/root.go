package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttv3"
)

// exitTimeout bounds the unsubscribe and disconnect performed on exit.
const exitTimeout = 5 * time.Second

type app struct {
	flags  flagValues
	cfg    Config
	logger *mqttv3.ZapLogger
	getenv func(string) string
	stdin  io.Reader

	// dial is replaced in tests.
	dial func(ctx context.Context, addr string, opts ...mqttv3.Option) (*mqttv3.Client, error)
}

func newRootCommand() *cobra.Command {
	a := &app{
		getenv: os.Getenv,
		stdin:  os.Stdin,
		dial:   mqttv3.DialContext,
	}

	cmd := &cobra.Command{
		Use:   "mqttv3",
		Short: "MQTT 3.1.1 command-line client",

		// stop printing usage when the command errors
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	a.flags.register(cmd.PersistentFlags())

	cmd.AddCommand(newPubCommand(a), newSubCommand(a))
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.flags.resolve(cmd.Flags(), a.getenv)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := mqttv3.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	a.logger, err = mqttv3.NewDevelopmentZapLogger(level)
	return err
}

func (a *app) connect(ctx context.Context) (*mqttv3.Client, error) {
	client, err := a.dial(ctx, a.cfg.BrokerURL(), a.cfg.Options(a.logger)...)
	if err != nil {
		return nil, err
	}

	a.logger.Info("connected", mqttv3.LogFields{
		mqttv3.LogFieldRemoteAddr: a.cfg.BrokerURL(),
		mqttv3.LogFieldClientID:   client.ClientID(),
	})
	return client, nil
}

// qos returns the validated quality of service; resolve rejects bad values.
func (a *app) qos() mqttv3.QoS {
	qos, _ := a.cfg.QoSLevel()
	return qos
}

// disconnect shuts the client down within exitTimeout.
func disconnect(client *mqttv3.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), exitTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}
