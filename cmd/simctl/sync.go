package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/similard/internal/app"
	httpapi "github.com/fyrsmithlabs/similard/internal/http"
	"github.com/fyrsmithlabs/similard/internal/indexer"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var (
		mode   string
		remote bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the product catalog into the vector store",
		Long: `Embed new and changed products and remove deleted ones from the vector store.

Incremental mode skips products whose content is unchanged since the last
successful sync. Full mode re-embeds everything.

Examples:
  # Incremental sync using the local configuration
  simctl sync

  # Re-embed the whole catalog
  simctl sync --mode full

  # Ask a running daemon to sync and wait for the report
  simctl sync --remote --server http://localhost:8088`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := indexer.ParseMode(mode)
			if err != nil {
				return err
			}
			var rep *indexer.Report
			if remote {
				rep, err = remoteSync(flags.serverURL, m)
			} else {
				rep, err = localSync(cmd, flags, m, quiet)
			}
			if rep != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep))
			}
			if err != nil {
				return err
			}
			if n := len(rep.Failed) + len(rep.DeleteFailed); n > 0 {
				return fmt.Errorf("%d product(s) failed to sync", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(indexer.ModeIncremental), "sync mode: incremental or full")
	cmd.Flags().BoolVar(&remote, "remote", false, "run the sync on the daemon at --server")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func localSync(cmd *cobra.Command, flags *globalFlags, mode indexer.Mode, quiet bool) (*indexer.Report, error) {
	var opts []app.Option
	if !quiet {
		opts = append(opts, app.WithProgress(newProgress(cmd.ErrOrStderr())))
	}
	a, cleanup, err := openApp(cmd.Context(), flags, opts...)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return a.Scheduler.RunNow(cmd.Context(), mode)
}

// newProgress returns a progress callback that draws a bar once the
// number of eligible products is known.
func newProgress(w io.Writer) indexer.ProgressFunc {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Syncing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(w)
				}),
			)
		}
		_ = bar.Set(done)
	}
}

func remoteSync(serverURL string, mode indexer.Mode) (*indexer.Report, error) {
	body, err := json.Marshal(httpapi.SyncRequest{Mode: string(mode), Wait: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/sync", serverURL)
	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var syncResp httpapi.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&syncResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if syncResp.Error != "" {
		return syncResp.Report, fmt.Errorf("sync ended with error: %s", syncResp.Error)
	}
	return syncResp.Report, nil
}

func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
