// ABOUTME: Factory for creating feed connectors and enrichment sources.
// ABOUTME: Centralizes connector instantiation for live, local, and mock modes.

package providers

import (
	"fmt"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/config"
	"github.com/jfeddern/ThreatPulse/internal/engine"
	"github.com/jfeddern/ThreatPulse/internal/providers/cisa"
	"github.com/jfeddern/ThreatPulse/internal/providers/feeds"
	"github.com/jfeddern/ThreatPulse/internal/providers/first"
	"github.com/jfeddern/ThreatPulse/internal/providers/github"
	"github.com/jfeddern/ThreatPulse/internal/providers/httpclient"
	"github.com/jfeddern/ThreatPulse/internal/providers/local"
	"github.com/jfeddern/ThreatPulse/internal/providers/mock"
	"github.com/jfeddern/ThreatPulse/internal/providers/nvd"
	"github.com/jfeddern/ThreatPulse/internal/providers/reddit"

	"github.com/sirupsen/logrus"
)

// ProviderConfig holds configuration for creating connectors
type ProviderConfig struct {
	Mode               string
	FixtureFile        string
	NVDAPIKey          string
	GitHubToken        string
	GitHubHourlyBudget int
	KEVWindowDays      int
	NVDWindowDays      int
	MockMode           bool // Enable mock connectors for local testing
	MockSeed           int64
	Sources            *config.Sources

	// Upstream overrides, empty for the public endpoints
	KEVURL    string
	NVDURL    string
	EPSSURL   string
	RedditURL string
	GitHubURL string
}

// CreateConnectors builds the connector set for the configured mode
func CreateConnectors(cfg *ProviderConfig, logger *logrus.Logger) (*Set, error) {
	// Check for mock mode first
	if cfg.MockMode {
		logger.WithField("seed", cfg.MockSeed).Info("Using mock connectors for testing")
		return createMock(cfg, logger), nil
	}

	switch cfg.Mode {
	case "live":
		return createLive(cfg, logger)
	case "local":
		if cfg.FixtureFile == "" {
			return nil, fmt.Errorf("local mode requires a fixture file")
		}
		return &Set{
			Connectors: []engine.Connector{local.NewFixtureSource(cfg.FixtureFile, logger)},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
}

func createMock(cfg *ProviderConfig, logger *logrus.Logger) *Set {
	set := &Set{
		Probability: mock.NewMockProbabilitySource(logger),
		Searcher:    mock.NewMockExploitSearcher(logger),
	}
	for _, s := range mock.NewMockSources(cfg.MockSeed, time.Now, logger) {
		set.Connectors = append(set.Connectors, s)
	}
	return set
}

func createLive(cfg *ProviderConfig, logger *logrus.Logger) (*Set, error) {
	sources := cfg.Sources
	if sources == nil {
		sources = config.Default()
	}
	client := httpclient.New(httpclient.DefaultUserAgent, logger)

	set := &Set{}
	set.Connectors = append(set.Connectors, cisa.NewKEVSource(client, cfg.KEVURL, cfg.KEVWindowDays, logger))
	for _, band := range nvd.Bands {
		set.Connectors = append(set.Connectors, nvd.NewSource(client, cfg.NVDURL, band, cfg.NVDAPIKey, cfg.NVDWindowDays, logger))
	}
	for _, f := range sources.Feeds {
		set.Connectors = append(set.Connectors, feeds.NewFeedSource(client, f, logger))
	}
	if len(sources.Communities) > 0 {
		set.Connectors = append(set.Connectors, reddit.NewSource(client, cfg.RedditURL, sources.Communities, logger))
	}

	set.Probability = first.NewEPSSSource(client, cfg.EPSSURL, logger)

	searcher, err := github.NewSearcher(cfg.GitHubToken, cfg.GitHubURL, cfg.GitHubHourlyBudget, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create code search client: %w", err)
	}
	set.Searcher = searcher

	if cfg.GitHubToken == "" {
		logger.Warn("No GitHub token configured, code search runs unauthenticated")
	}

	logger.WithFields(logrus.Fields{
		"connectors":  len(set.Connectors),
		"feeds":       len(sources.Feeds),
		"communities": len(sources.Communities),
	}).Info("Created live connectors")

	return set, nil
}
