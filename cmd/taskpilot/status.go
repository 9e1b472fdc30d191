package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// statusView mirrors the GET /api/status payload.
type statusView struct {
	Dependencies map[string]struct {
		State               string    `json:"state"`
		ConsecutiveFailures int       `json:"consecutive_failures"`
		OpenedAt            time.Time `json:"opened_at"`
	} `json:"dependencies"`
	Components map[string]time.Time `json:"components"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show breaker states and component activity of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 10 * time.Second}

			var health map[string]string
			if err := getJSON(cmd.Context(), client, opts.serverURL+"/api/healthz", &health); err != nil {
				return err
			}
			var status statusView
			if err := getJSON(cmd.Context(), client, opts.serverURL+"/api/status", &status); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), health["version"], &status, time.Now())
			return nil
		},
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

func printStatus(out io.Writer, version string, status *statusView, now time.Time) {
	fmt.Fprintf(out, "taskpilot %s\n\n", version)

	fmt.Fprintln(out, "Dependencies:")
	for _, name := range sortedKeys(status.Dependencies) {
		dep := status.Dependencies[name]
		line := fmt.Sprintf("  %-16s %-9s", name, dep.State)
		switch {
		case dep.State != "closed" && !dep.OpenedAt.IsZero():
			line += " opened " + humanize.RelTime(dep.OpenedAt, now, "ago", "from now")
		case dep.ConsecutiveFailures > 0:
			line += fmt.Sprintf(" %d consecutive %s", dep.ConsecutiveFailures, plural(dep.ConsecutiveFailures, "failure"))
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}

	fmt.Fprintln(out, "\nComponents:")
	if len(status.Components) == 0 {
		fmt.Fprintln(out, "  no requests handled yet")
		return
	}
	for _, name := range sortedKeys(status.Components) {
		fmt.Fprintf(out, "  %-22s last active %s\n", name, humanize.RelTime(status.Components[name], now, "ago", "from now"))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
