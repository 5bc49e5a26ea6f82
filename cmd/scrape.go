package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leaklook/internal/redisclient"
	"leaklook/internal/storage"

	"github.com/spf13/cobra"
)

// scrapeCmd enqueues a manual run-now trigger for a source. The running
// daemon picks it up on its next tick, bypassing the cadence check. If the
// location is already in flight the trigger is a no-op.
var scrapeCmd = &cobra.Command{
	Use:   "scrape <source-id> [source-id...]",
	Short: "Request an immediate scrape of one or more sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		store := storage.NewRedisStore(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, id := range args {
			id = strings.ToLower(strings.TrimSpace(id))
			if id == "" {
				continue
			}
			if err := store.EnqueueTrigger(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "triggered %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
}
