package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/killer-ai/killer/pkg/models"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	var serverURL string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy, or live hit counts from a running serve with --server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				stats, err := fetchCacheStats(cmd.Context(), serverURL)
				if err != nil {
					return err
				}
				printCacheStats(cmd.OutOrStdout(), stats, true)
				return nil
			}

			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			printCacheStats(cmd.OutOrStdout(), a.pipeline.CacheStats(), false)
			return nil
		},
	}
	statsCmd.Flags().StringVar(&serverURL, "server", "", "base URL of a running serve instance, e.g. http://127.0.0.1:8787")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// fetchCacheStats reads GET /v1/cache from a running serve instance.
func fetchCacheStats(ctx context.Context, base string) (models.CacheStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/v1/cache", nil)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("fetch cache stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.CacheStats{}, fmt.Errorf("fetch cache stats: server returned %d", resp.StatusCode)
	}
	var stats models.CacheStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return models.CacheStats{}, fmt.Errorf("decode cache stats: %w", err)
	}
	return stats, nil
}

// printCacheStats writes occupancy, plus hit counters when they come from a live server.
func printCacheStats(w io.Writer, stats models.CacheStats, live bool) {
	fmt.Fprintf(w, "Entries:  %d\nCapacity: %d\n", stats.Entries, stats.Capacity)
	if live {
		fmt.Fprintf(w, "Hits:     %d\nMisses:   %d\n", stats.Hits, stats.Misses)
	}
}
