package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"leaklook/internal/redisclient"
	"leaklook/internal/storage"

	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Query extracted records",
}

var (
	recentSource  string
	recentDays    int
	recentKeyword string
	recentLimit   int
)

var recordsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		store := storage.NewRedisStore(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		recs, err := store.ListRecords(ctx, storage.ListFilter{
			SourceID:  recentSource,
			SinceDays: recentDays,
			Keyword:   recentKeyword,
			Limit:     recentLimit,
		})
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
				r.DiscoveredAt.UTC().Format("2006-01-02 15:04"), r.SourceID, r.Title)
		}
		return nil
	},
}

var statsDays int

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Per-source record counts over a period",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		store := storage.NewRedisStore(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		end := time.Now().UTC()
		start := end.AddDate(0, 0, -statsDays)
		stats, err := store.StatsByPeriod(ctx, start, end)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(stats))
		for id := range stats {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return stats[ids[i]] > stats[ids[j]] })
		for _, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", id, stats[id])
		}
		return nil
	},
}

func init() {
	recordsRecentCmd.Flags().StringVar(&recentSource, "source", "", "filter by source id")
	recordsRecentCmd.Flags().IntVar(&recentDays, "days", 0, "only records from the last N days")
	recordsRecentCmd.Flags().StringVar(&recentKeyword, "keyword", "", "filter by keyword in title or description")
	recordsRecentCmd.Flags().IntVar(&recentLimit, "limit", 50, "maximum records to print")
	recordsStatsCmd.Flags().IntVar(&statsDays, "days", 30, "period length in days")

	recordsCmd.AddCommand(recordsRecentCmd, recordsStatsCmd)
	rootCmd.AddCommand(recordsCmd)
}
