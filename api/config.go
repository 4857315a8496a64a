package api

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config holds the tunable constants of the similarity index. Zero-value
// Config is not valid; use DefaultConfig and override individual fields, or
// load one with LoadConfig.
type Config struct {
	// ImbalancePopulationThreshold is the minimum node population above
	// which a branch is even considered for imbalance (spec.md's 16).
	ImbalancePopulationThreshold int `hcl:"imbalance_population_threshold,optional"`

	// ImbalanceRatioThreshold is the min/max child population ratio below
	// which a branch is scheduled for regeneration (spec.md's 0.5).
	ImbalanceRatioThreshold float64 `hcl:"imbalance_ratio_threshold,optional"`

	// BestRootMaxViewpoints caps how many candidate vantage points are
	// sampled when picking a branch's new root (spec.md's 256).
	BestRootMaxViewpoints int `hcl:"best_root_max_viewpoints,optional"`

	// BestRootMaxSample caps how many of the branch's members are sampled
	// to score each candidate viewpoint (spec.md's 64).
	BestRootMaxSample int `hcl:"best_root_max_sample,optional"`

	// SearchFetchChunk bounds how many tree nodes a search pulls from
	// storage per round trip while expanding one level (spec.md's 10000).
	SearchFetchChunk int `hcl:"search_fetch_chunk,optional"`

	// MaintenanceDueCacheHits is the number of under-searched files that
	// must be outstanding before MaintenanceDue reports true (default 100).
	MaintenanceDueCacheHits int `hcl:"maintenance_due_cache_hits,optional"`

	// DefaultSearchDistance is the Hamming distance search cache entries
	// are considered satisfied against, absent an explicit request distance.
	DefaultSearchDistance int `hcl:"default_search_distance,optional"`
}

// DefaultConfig returns the contract defaults named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		ImbalancePopulationThreshold: 16,
		ImbalanceRatioThreshold:      0.5,
		BestRootMaxViewpoints:        256,
		BestRootMaxSample:            64,
		SearchFetchChunk:             10000,
		MaintenanceDueCacheHits:      100,
		DefaultSearchDistance:        8,
	}
}

// LoadConfig reads an HCL file at path and overlays it onto DefaultConfig.
// A missing optional field in the file keeps its default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether cfg's fields are within the ranges the rest of
// the module assumes.
func (c Config) Validate() error {
	if c.ImbalancePopulationThreshold < 1 {
		return fmt.Errorf("imbalance_population_threshold must be >= 1, got %d", c.ImbalancePopulationThreshold)
	}
	if c.ImbalanceRatioThreshold <= 0 || c.ImbalanceRatioThreshold >= 1 {
		return fmt.Errorf("imbalance_ratio_threshold must be in (0,1), got %v", c.ImbalanceRatioThreshold)
	}
	if c.BestRootMaxViewpoints < 1 {
		return fmt.Errorf("best_root_max_viewpoints must be >= 1, got %d", c.BestRootMaxViewpoints)
	}
	if c.BestRootMaxSample < 1 {
		return fmt.Errorf("best_root_max_sample must be >= 1, got %d", c.BestRootMaxSample)
	}
	if c.SearchFetchChunk < 1 {
		return fmt.Errorf("search_fetch_chunk must be >= 1, got %d", c.SearchFetchChunk)
	}
	if c.MaintenanceDueCacheHits < 0 {
		return fmt.Errorf("maintenance_due_cache_hits must be >= 0, got %d", c.MaintenanceDueCacheHits)
	}
	if c.DefaultSearchDistance < 0 || c.DefaultSearchDistance > 64 {
		return fmt.Errorf("default_search_distance must be in [0,64], got %d", c.DefaultSearchDistance)
	}
	return nil
}
