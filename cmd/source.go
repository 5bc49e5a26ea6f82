package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leaklook/internal/model"
	"leaklook/internal/redisclient"
	"leaklook/internal/registry"

	"github.com/spf13/cobra"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Administer monitored sources and their mirrors",
}

var (
	sourceAddCategory string
	sourceAddTier     string
)

var sourceAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Create or update a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		id := strings.ToLower(strings.TrimSpace(args[0]))
		err := reg.UpsertSource(ctx, model.Source{
			ID:       id,
			Category: model.Category(sourceAddCategory),
			Tier:     model.Tier(sourceAddTier),
			Active:   true,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "source %s upserted\n", id)
		return nil
	},
}

var locationVisibility string

var sourceLocationCmd = &cobra.Command{
	Use:   "location <id> <address>",
	Short: "Add a mirror location to a source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		loc := model.Location{Address: args[1], Visibility: model.Visibility(locationVisibility)}
		if err := reg.AddLocation(ctx, args[0], loc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "location added to %s\n", args[0])
		return nil
	},
}

var sourceTierCmd = &cobra.Command{
	Use:   "tier <id> <priority|standard>",
	Short: "Change the scheduling tier of a source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		tier := model.Tier(args[1])
		if tier != model.TierPriority && tier != model.TierStandard {
			return fmt.Errorf("unknown tier %q", args[1])
		}
		if err := reg.SetTier(ctx, args[0], tier); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s moved to %s tier\n", args[0], tier)
		return nil
	},
}

var sourcePrivateCmd = &cobra.Command{
	Use:   "private <id> <address>",
	Short: "Hide a location from external listings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := reg.SetVisibility(ctx, args[0], args[1], model.VisibilityPrivate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "location marked private\n")
		return nil
	},
}

var sourceDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Soft-remove a source from scheduling and listings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := reg.Deactivate(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "source %s deactivated\n", args[0])
		return nil
	},
}

var listIncludePrivate bool

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := redisclient.New(GetConfig().Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sources, err := reg.ListSources(ctx, registry.Filter{IncludePrivate: listIncludePrivate})
		if err != nil {
			return err
		}
		for _, s := range sources {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.Category, s.Tier)
			for _, l := range s.Locations {
				state := "down"
				if l.Available {
					state = "up"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\tlast success %s\n", l.Address, state, fmtTime(l.LastSuccessAt))
			}
		}
		return nil
	},
}

var sourceReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-import the source seed file into the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg.Sources.SeedFile == "" {
			return fmt.Errorf("sources.seed_file not configured")
		}
		rdb := redisclient.New(cfg.Redis)
		defer rdb.Close()
		reg := registry.New(rdb)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		seeds, err := registry.LoadSeedFile(cfg.Sources.SeedFile)
		if err != nil {
			return err
		}
		applied, skipped := reg.ApplySeed(ctx, seeds)
		fmt.Fprintf(cmd.OutOrStdout(), "seed applied: %d sources, %d skipped\n", applied, skipped)
		return nil
	},
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func init() {
	sourceAddCmd.Flags().StringVar(&sourceAddCategory, "category", "group", "source category: group, market, chat-channel, social-account")
	sourceAddCmd.Flags().StringVar(&sourceAddTier, "tier", "standard", "scheduling tier: priority or standard")
	sourceLocationCmd.Flags().StringVar(&locationVisibility, "visibility", "public", "public or private")
	sourceListCmd.Flags().BoolVar(&listIncludePrivate, "private", false, "include private locations")

	sourceCmd.AddCommand(sourceAddCmd, sourceLocationCmd, sourceTierCmd, sourcePrivateCmd, sourceDeactivateCmd, sourceListCmd, sourceReloadCmd)
	rootCmd.AddCommand(sourceCmd)
}
