// ABOUTME: Local file-based connector for replay and air-gapped runs.
// ABOUTME: Reads vulnerability records from a JSON fixture without network access.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// FixtureSource implements the engine connector for a local JSON fixture
type FixtureSource struct {
	fixtureFile string
	logger      *logrus.Logger
}

// NewFixtureSource creates a new local file-based connector
func NewFixtureSource(fixtureFile string, logger *logrus.Logger) *FixtureSource {
	return &FixtureSource{
		fixtureFile: fixtureFile,
		logger:      logger,
	}
}

// Name returns the connector name
func (l *FixtureSource) Name() string {
	return "local"
}

// Kind reports fixture records as database records so their fields are authoritative
func (l *FixtureSource) Kind() types.SourceKind {
	return types.KindDatabase
}

// Timeout returns the per-fetch timeout
func (l *FixtureSource) Timeout() time.Duration {
	return 5 * time.Second
}

// Fetch reads records from the fixture file. The file holds a JSON array in
// the same shape as the aggregate output records.
func (l *FixtureSource) Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error) {
	logger := l.logger.WithField("operation", "fetch_local")

	data, err := os.ReadFile(l.fixtureFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file '%s': %w", l.fixtureFile, err)
	}

	var raw []types.VulnerabilityRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse fixture JSON: %w", err)
	}

	logger.WithField("record_count", len(raw)).Info("Read fixture records from file")

	records := make([]types.VulnerabilityRecord, 0, len(raw))
	for _, r := range raw {
		id, ok := extract.Normalize(r.Identifier)
		if !ok {
			logger.WithField("identifier", r.Identifier).Debug("Skipping fixture record with invalid identifier")
			continue
		}
		r.Identifier = id
		// Derived fields are always recomputed
		r.AttentionScore = 0
		r.ScoreBreakdown = nil
		r.Classification = types.Classification{}
		r.AgeDays = nil
		r.Sources = nil
		records = append(records, r)
	}

	logger.WithField("valid_records", len(records)).Info("Local fixture load completed")
	return records, nil
}
