// ABOUTME: Connector set definitions for feed and enrichment sources.
// ABOUTME: Groups the primary connectors with the post-correlation enrichment sources.

package providers

import (
	"github.com/jfeddern/ThreatPulse/internal/engine"
	"github.com/jfeddern/ThreatPulse/internal/enrich"
	"github.com/jfeddern/ThreatPulse/internal/providers/cisa"
	"github.com/jfeddern/ThreatPulse/internal/providers/feeds"
	"github.com/jfeddern/ThreatPulse/internal/providers/first"
	"github.com/jfeddern/ThreatPulse/internal/providers/github"
	"github.com/jfeddern/ThreatPulse/internal/providers/local"
	"github.com/jfeddern/ThreatPulse/internal/providers/mock"
	"github.com/jfeddern/ThreatPulse/internal/providers/nvd"
	"github.com/jfeddern/ThreatPulse/internal/providers/reddit"
)

// Set is the wiring for one run mode. Either enrichment source may be nil.
type Set struct {
	Connectors  []engine.Connector
	Probability enrich.ProbabilitySource
	Searcher    enrich.ExploitSearcher
}

// Names lists the connector names in wiring order
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Connectors))
	for _, c := range s.Connectors {
		names = append(names, c.Name())
	}
	return names
}

var (
	_ engine.Connector         = (*cisa.KEVSource)(nil)
	_ engine.Connector         = (*nvd.Source)(nil)
	_ engine.Connector         = (*feeds.FeedSource)(nil)
	_ engine.Connector         = (*reddit.Source)(nil)
	_ engine.Connector         = (*local.FixtureSource)(nil)
	_ engine.Connector         = (*mock.MockSource)(nil)
	_ enrich.ProbabilitySource = (*first.EPSSSource)(nil)
	_ enrich.ProbabilitySource = (*mock.MockProbabilitySource)(nil)
	_ enrich.ExploitSearcher   = (*github.Searcher)(nil)
	_ enrich.ExploitSearcher   = (*mock.MockExploitSearcher)(nil)
)
