// ABOUTME: Sources file loader for feeds, communities, and policy overrides.
// ABOUTME: Parses YAML on top of built-in defaults and validates the result.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/providers/feeds"

	"gopkg.in/yaml.v3"
)

// DefaultFeeds are the news feeds used when no sources file is given
var DefaultFeeds = []feeds.Feed{
	{Name: "bleepingcomputer", URL: "https://www.bleepingcomputer.com/feed/", Weight: 1.0},
	{Name: "thehackernews", URL: "https://feeds.feedburner.com/TheHackersNews", Weight: 1.0},
	{Name: "securityweek", URL: "https://www.securityweek.com/feed/", Weight: 0.8},
	{Name: "darkreading", URL: "https://www.darkreading.com/rss.xml", Weight: 0.8},
	{Name: "krebsonsecurity", URL: "https://krebsonsecurity.com/feed/", Weight: 0.6},
	{Name: "cisa-advisories", URL: "https://www.cisa.gov/cybersecurity-advisories/all.xml", Weight: 1.2},
}

// DefaultCommunities are the social communities searched by default
var DefaultCommunities = []string{"netsec", "cybersecurity", "sysadmin", "blueteamsec"}

// Sources holds everything configurable through the sources file
type Sources struct {
	Feeds       []feeds.Feed `yaml:"feeds"`
	Communities []string     `yaml:"communities"`
	Policy      policy.Table `yaml:"policy"`
}

// Default returns the built-in sources
func Default() *Sources {
	return &Sources{
		Feeds:       append([]feeds.Feed(nil), DefaultFeeds...),
		Communities: append([]string(nil), DefaultCommunities...),
		Policy:      policy.Default(),
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Sources, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML sources. Lists given in the document replace the
// default lists; policy keys override individual defaults.
func Parse(data []byte) (*Sources, error) {
	s := &Sources{Policy: policy.Default()}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse sources YAML: %w", err)
	}
	if s.Feeds == nil {
		s.Feeds = append([]feeds.Feed(nil), DefaultFeeds...)
	}
	if s.Communities == nil {
		s.Communities = append([]string(nil), DefaultCommunities...)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects unusable feed entries and inconsistent policy tables
func (s *Sources) Validate() error {
	names := make(map[string]struct{}, len(s.Feeds))
	for i, f := range s.Feeds {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("feed %d has no name", i)
		}
		if !strings.HasPrefix(f.URL, "http://") && !strings.HasPrefix(f.URL, "https://") {
			return fmt.Errorf("feed %q has invalid URL %q", f.Name, f.URL)
		}
		if f.Weight < 0 {
			return fmt.Errorf("feed %q has negative weight %v", f.Name, f.Weight)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("duplicate feed name %q", f.Name)
		}
		names[f.Name] = struct{}{}
	}
	for _, c := range s.Communities {
		if strings.TrimSpace(c) == "" || strings.Contains(c, "/") {
			return fmt.Errorf("invalid community name %q", c)
		}
	}
	if err := s.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}
