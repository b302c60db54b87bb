// chatrelay - relay chat messages to a workflow webhook.
//
// Commands:
//   serve   run the HTTP proxy (POST /api/chat, GET /api/health)
//   chat    interactive terminal chat
//   send    send one message and print the reply
//
// Configuration is read from --config (JSON, or YAML for .yaml/.yml),
// CHATRELAY_CONFIG_JSON, and CHATRELAY_* environment variables.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/karbit/chatrelay/pkg/config"
	"github.com/karbit/chatrelay/pkg/logger"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Relay chat messages to a workflow webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newSendCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the config and applies the log level.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger.SetLevel(logger.ParseLevel(level))
	return cfg, nil
}

// quietLogs raises the log level to at least floor unless --log-level was
// given explicitly.
func (o *rootOptions) quietLogs(floor logger.LogLevel) {
	if o.logLevel != "" {
		return
	}
	if logger.GetLevel() < floor {
		logger.SetLevel(floor)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chatrelay", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
