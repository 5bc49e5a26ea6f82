package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"leaklook/internal/model"

	"gopkg.in/yaml.v3"
)

// SeedLocation is one mirror entry in the seed file.
type SeedLocation struct {
	Address      string `yaml:"address"`
	Visibility   string `yaml:"visibility"`
	FetchTimeout string `yaml:"fetch_timeout"`
	FetchDelay   string `yaml:"fetch_delay"`
}

// SeedSelectors configures the CSS-selector extractor for one source.
type SeedSelectors struct {
	Entry       string `yaml:"entry"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Link        string `yaml:"link"`
}

// SeedSource describes one source in the seed file.
type SeedSource struct {
	ID        string         `yaml:"id"`
	Category  string         `yaml:"category"`
	Tier      string         `yaml:"tier"`
	Locations []SeedLocation `yaml:"locations"`
	Selectors *SeedSelectors `yaml:"selectors,omitempty"`
}

type seedFile struct {
	Sources []SeedSource `yaml:"sources"`
}

// LoadSeedFile parses a YAML seed file describing sources and mirrors.
func LoadSeedFile(path string) ([]SeedSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return f.Sources, nil
}

// ApplySeed upserts the seed entries into the registry. Existing sources keep
// their liveness state; unknown locations are added, known ones left alone.
// Malformed entries are skipped and counted, not fatal.
func (r *Registry) ApplySeed(ctx context.Context, seeds []SeedSource) (applied, skipped int) {
	for _, s := range seeds {
		id := strings.ToLower(strings.TrimSpace(s.ID))
		src := model.Source{
			ID:       id,
			Category: model.Category(s.Category),
			Tier:     model.Tier(s.Tier),
			Active:   true,
		}
		if src.Tier == "" {
			src.Tier = model.TierStandard
		}
		if err := r.UpsertSource(ctx, src); err != nil {
			slog.Error("seed: upsert failed", "source", s.ID, "error", err)
			skipped++
			continue
		}
		for _, l := range s.Locations {
			loc := model.Location{
				Address:    l.Address,
				Visibility: model.Visibility(l.Visibility),
			}
			if l.FetchTimeout != "" {
				if d, err := time.ParseDuration(l.FetchTimeout); err == nil {
					loc.FetchTimeout = d
				}
			}
			if l.FetchDelay != "" {
				if d, err := time.ParseDuration(l.FetchDelay); err == nil {
					loc.FetchDelay = d
				}
			}
			err := r.AddLocation(ctx, id, loc)
			if err != nil && !errors.Is(err, ErrDuplicateLocation) {
				slog.Error("seed: add location failed", "source", id, "address", l.Address, "error", err)
			}
		}
		applied++
	}
	return applied, skipped
}
