package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskpilot/pkg/config"
	"taskpilot/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "taskpilot",
		Short: "Conversational front end for a task store",
		Long: `taskpilot turns free-form chat messages into task store commands.

It classifies each message, asks for anything missing, calls the task API
behind retry, circuit breaker and timeout protection, and replies in text
suited to the caller's platform.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8080", "Base URL of a running taskpilot server")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newStatusCmd(opts),
		newStatsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file when one was given, otherwise defaults plus env overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("no config file given and environment is incomplete: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskpilot %s\n", version.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", version.Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", version.Date)
		},
	}
}
