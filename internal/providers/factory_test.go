// ABOUTME: Tests for connector factory functionality.
// ABOUTME: Tests connector set creation for live, local, and mock configurations.

package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jfeddern/ThreatPulse/internal/config"
	"github.com/jfeddern/ThreatPulse/internal/providers/feeds"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCreateConnectors(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name        string
		config      *ProviderConfig
		expectError bool
		expectNames []string
		enrichment  bool
	}{
		{
			name:        "mock mode",
			config:      &ProviderConfig{Mode: "live", MockMode: true, MockSeed: 1},
			expectNames: []string{"mock-kev", "mock-nvd", "mock-reddit", "mock-bleepingcomputer", "mock-thehackernews", "mock-securityweek"},
			enrichment:  true,
		},
		{
			name:        "local mode with fixture",
			config:      &ProviderConfig{Mode: "local", FixtureFile: createTestFixture(t)},
			expectNames: []string{"local"},
		},
		{
			name:        "local mode without fixture",
			config:      &ProviderConfig{Mode: "local"},
			expectError: true,
		},
		{
			name: "live mode",
			config: &ProviderConfig{
				Mode: "live",
				Sources: &config.Sources{
					Feeds:       []feeds.Feed{{Name: "vendor-blog", URL: "https://vendor.example/feed", Weight: 1}},
					Communities: []string{"netsec"},
				},
			},
			expectNames: []string{"cisa-kev", "nvd-critical", "nvd-high", "nvd-medium", "nvd-low", "vendor-blog", "reddit"},
			enrichment:  true,
		},
		{
			name: "live mode without communities",
			config: &ProviderConfig{
				Mode:    "live",
				Sources: &config.Sources{},
			},
			expectNames: []string{"cisa-kev", "nvd-critical", "nvd-high", "nvd-medium", "nvd-low"},
			enrichment:  true,
		},
		{
			name:        "unsupported mode",
			config:      &ProviderConfig{Mode: "cluster"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := CreateConnectors(tt.config, logger)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectNames, set.Names())
			if tt.enrichment {
				assert.NotNil(t, set.Probability)
				assert.NotNil(t, set.Searcher)
			} else {
				assert.Nil(t, set.Probability)
				assert.Nil(t, set.Searcher)
			}
		})
	}
}

func TestCreateConnectorsLiveDefaults(t *testing.T) {
	set, err := CreateConnectors(&ProviderConfig{Mode: "live"}, testLogger())
	require.NoError(t, err)
	// KEV, four NVD bands, every default feed, and the social connector
	assert.Len(t, set.Connectors, 1+4+len(config.DefaultFeeds)+1)
}

func createTestFixture(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"identifier": "CVE-2025-0001"}]`), 0o600))
	return path
}
