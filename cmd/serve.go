package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leaklook/internal/config"
	"leaklook/internal/extract"
	"leaklook/internal/model"
	"leaklook/internal/notify"
	"leaklook/internal/redisclient"
	"leaklook/internal/registry"
	"leaklook/internal/scrape"
	"leaklook/internal/storage"
	"leaklook/worker"

	"github.com/spf13/cobra"
)

var serveProxyURL string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion and notification pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		rdb := redisclient.New(cfg.Redis)
		defer rdb.Close()

		// The pipeline cannot run without the shared store.
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}

		reg := registry.New(rdb)
		reg.FailureThreshold = cfg.Scrape.FailureThreshold
		store := storage.NewRedisStore(rdb)

		extractors := extract.NewRegistry()
		if cfg.Sources.SeedFile != "" {
			if err := loadSeed(context.Background(), reg, extractors, cfg.Sources.SeedFile); err != nil {
				return err
			}
		}

		fetcher, err := scrape.NewHTTPFetcher(serveProxyURL, "")
		if err != nil {
			return err
		}

		sched, err := buildScheduler(cfg.Scrape, reg, store, fetcher, extractors)
		if err != nil {
			return err
		}

		ws := []worker.Worker{sched}
		pollInterval, err := time.ParseDuration(cfg.Notify.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid notify.poll_interval: %w", err)
		}
		for _, sc := range cfg.Notify.Sinks {
			sink, err := buildSink(sc)
			if err != nil {
				return err
			}
			ws = append(ws, &worker.Poller{Store: store, Sink: sink, Interval: pollInterval})
			slog.Info("starting notification poller", "sink", sink.Name())
		}

		mgr := worker.NewManager(ws...)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			s := <-sigc
			slog.Info("received signal, shutting down", "signal", s.String())
			cancel()
		}()

		return mgr.Start(ctx)
	},
}

// loadSeed imports the source seed file into the registry and registers the
// configured extraction routines.
func loadSeed(ctx context.Context, reg *registry.Registry, extractors *extract.Registry, path string) error {
	seeds, err := registry.LoadSeedFile(path)
	if err != nil {
		return err
	}
	applied, skipped := reg.ApplySeed(ctx, seeds)
	slog.Info("seed file loaded", "path", path, "applied", applied, "skipped", skipped)
	registerExtractors(extractors, seeds)
	return nil
}

// registerExtractors binds extraction routines by source id: explicit
// selectors win, otherwise chat and social sources get the built-in category
// extractors. Sources without any binding stay raw-only.
func registerExtractors(extractors *extract.Registry, seeds []registry.SeedSource) {
	for _, s := range seeds {
		if s.Selectors != nil {
			extractors.Register(s.ID, extract.Selector{
				Entry:       s.Selectors.Entry,
				Title:       s.Selectors.Title,
				Description: s.Selectors.Description,
				Link:        s.Selectors.Link,
			})
			continue
		}
		switch model.Category(s.Category) {
		case model.CategoryChat:
			extractors.Register(s.ID, extract.Chat{})
		case model.CategorySocial:
			extractors.Register(s.ID, extract.Feed{})
		}
	}
}

func buildScheduler(sc config.ScrapeConfig, reg *registry.Registry, store *storage.RedisStore, fetcher scrape.Fetcher, extractors *extract.Registry) (*worker.Scheduler, error) {
	tick, err := time.ParseDuration(sc.Tick)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape.tick: %w", err)
	}
	prio, err := time.ParseDuration(sc.PriorityInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape.priority_interval: %w", err)
	}
	std, err := time.ParseDuration(sc.StandardInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape.standard_interval: %w", err)
	}
	timeout, err := time.ParseDuration(sc.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape.fetch_timeout: %w", err)
	}
	rawTTL, err := time.ParseDuration(sc.RawTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape.raw_ttl: %w", err)
	}
	return &worker.Scheduler{
		Registry:       reg,
		Store:          store,
		Fetcher:        fetcher,
		Extractors:     extractors,
		Triggers:       store,
		Tick:           tick,
		Workers:        sc.Workers,
		Cadence:        worker.Cadence{Priority: prio, Standard: std},
		DefaultTimeout: timeout,
		RawTTL:         rawTTL,
	}, nil
}

func buildSink(sc config.SinkConfig) (notify.Sink, error) {
	switch sc.Type {
	case "slack":
		if sc.BotToken == "" || sc.ChannelID == "" {
			return nil, fmt.Errorf("sink %q: slack requires bot_token and channel_id", sc.Name)
		}
		return notify.NewSlackSink(sc.Name, sc.BotToken, sc.ChannelID, 10*time.Second), nil
	case "webhook":
		if sc.URL == "" {
			return nil, fmt.Errorf("sink %q: webhook requires url", sc.Name)
		}
		return notify.NewWebhookSink(sc.Name, sc.URL, 10*time.Second), nil
	default:
		return nil, fmt.Errorf("sink %q: unknown type %q", sc.Name, sc.Type)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveProxyURL, "proxy", "", "proxy URL for fetches (e.g. socks5://127.0.0.1:9050)")
	rootCmd.AddCommand(serveCmd)
}
