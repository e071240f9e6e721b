package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/similard/internal/http"
	"github.com/fyrsmithlabs/similard/internal/indexer"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and the last sync",
		Long: `Query a running similard daemon for its health and sync state.

Examples:
  simctl status
  simctl status --server http://localhost:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 5 * time.Second}

			// /health answers 503 with a body when a component is down.
			var health httpapi.HealthResponse
			if err := getJSON(client, flags.serverURL+"/health", &health, http.StatusOK, http.StatusServiceUnavailable); err != nil {
				return err
			}
			var st indexer.Status
			if err := getJSON(client, flags.serverURL+"/api/v1/sync/status", &st, http.StatusOK); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(health.Status, health.Components, st))
			if health.Status != "ok" {
				return fmt.Errorf("similard is %s", health.Status)
			}
			return nil
		},
	}
}

func getJSON(client *http.Client, url string, out any, accept ...int) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
