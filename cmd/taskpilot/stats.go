package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"taskpilot/pkg/config"
	"taskpilot/pkg/metrics"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var prometheusURL string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize pipeline outcomes from Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if prometheusURL == "" {
				prometheusURL = config.DefaultPrometheusURL
				if opts.configPath != "" {
					cfg, err := config.LoadConfig(opts.configPath)
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}
					prometheusURL = cfg.Server.PrometheusURL
				}
			}

			qs, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err
			}
			stats, err := qs.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&prometheusURL, "prometheus", "", "Prometheus base URL, overrides server.prometheus_url")
	return cmd
}

func printStats(out io.Writer, stats *metrics.Stats) {
	fmt.Fprintln(out, "Orchestrations by outcome:")
	printCounts(out, stats.Orchestrations)

	fmt.Fprintln(out, "\nOrchestrations by intent:")
	printCounts(out, stats.Intents)

	for _, name := range sortedKeys(stats.Dependencies) {
		dep := stats.Dependencies[name]
		state := dep.State
		if state == "" {
			state = "unknown"
		}
		fmt.Fprintf(out, "\nDependency %s (circuit %s, %s retries):\n", name, state, humanize.Comma(int64(dep.Retries)))
		printCounts(out, dep.Outcomes)
	}
}

func printCounts(out io.Writer, counts map[string]float64) {
	if len(counts) == 0 {
		fmt.Fprintln(out, "  none")
		return
	}
	for _, key := range sortedKeys(counts) {
		fmt.Fprintf(out, "  %-16s %s\n", key, humanize.Comma(int64(counts[key])))
	}
}
