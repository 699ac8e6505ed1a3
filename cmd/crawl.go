package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/hn-mirror/internal/item"
)

// newCrawlCmd runs one refresh cycle, or resolves a single item when --item
// is given, and prints the result.
func newCrawlCmd() *cobra.Command {
	var rawID string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one refresh cycle and exits",
		Long: `Fetches the current top stories and crawls their comment trees once.
With --item, crawls the subtree of one item instead and prints it as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if rawID != "" {
				return runItemCrawl(cmd, appInstance, rawID)
			}
			return runRefreshCrawl(cmd, appInstance)
		},
	}
	cmd.Flags().StringVar(&rawID, "item", "", "resolve a single item id instead of the top stories")
	return cmd
}

func runRefreshCrawl(cmd *cobra.Command, appInstance App) error {
	cycle, err := appInstance.RefreshOnce(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cycle %s: %d top stories\n", cycle.ID, len(cycle.TopIDs))
	fmt.Fprintf(out, "fetched %s items, %s failed, %s duplicates in %s\n",
		humanize.Comma(int64(cycle.Stats.Fetched)),
		humanize.Comma(int64(cycle.Stats.Failed)),
		humanize.Comma(int64(cycle.Stats.Duplicates)),
		cycle.Stats.Duration.Round(time.Millisecond),
	)
	return nil
}

func runItemCrawl(cmd *cobra.Command, appInstance App, rawID string) error {
	id, err := item.ParseID(rawID)
	if err != nil {
		return err
	}
	it, ok := appInstance.Resolve(cmd.Context(), id)
	if !ok {
		return fmt.Errorf("item %s could not be retrieved", id)
	}
	return writeItem(cmd.OutOrStdout(), it)
}

func writeItem(w io.Writer, it *item.Item) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(it); err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	return nil
}
