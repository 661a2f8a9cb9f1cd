// ABOUTME: Known-exploited vulnerabilities catalog connector.
// ABOUTME: Fetches the CISA KEV JSON feed and keeps entries added within a trailing window.

package cisa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/providers/httpclient"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultFeedURL is the public KEV catalog
const DefaultFeedURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

const dateLayout = "2006-01-02"

type catalog struct {
	Title           string  `json:"title"`
	CatalogVersion  string  `json:"catalogVersion"`
	Count           int     `json:"count"`
	Vulnerabilities []entry `json:"vulnerabilities"`
}

type entry struct {
	CveID                      string   `json:"cveID"`
	VendorProject              string   `json:"vendorProject"`
	Product                    string   `json:"product"`
	VulnerabilityName          string   `json:"vulnerabilityName"`
	DateAdded                  string   `json:"dateAdded"`
	ShortDescription           string   `json:"shortDescription"`
	RequiredAction             string   `json:"requiredAction"`
	DueDate                    string   `json:"dueDate"`
	KnownRansomwareCampaignUse string   `json:"knownRansomwareCampaignUse"`
	CWEs                       []string `json:"cwes"`
}

// KEVSource implements the engine connector for the KEV catalog
type KEVSource struct {
	client     *httpclient.Client
	url        string
	windowDays int
	timeout    time.Duration
	now        func() time.Time
	logger     *logrus.Logger
}

// NewKEVSource creates a KEV connector. An empty url selects the public feed.
func NewKEVSource(client *httpclient.Client, url string, windowDays int, logger *logrus.Logger) *KEVSource {
	if url == "" {
		url = DefaultFeedURL
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	return &KEVSource{
		client:     client,
		url:        url,
		windowDays: windowDays,
		timeout:    15 * time.Second,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the clock used for the trailing window
func (k *KEVSource) WithClock(now func() time.Time) *KEVSource {
	k.now = now
	return k
}

// Name returns the connector name
func (k *KEVSource) Name() string {
	return "cisa-kev"
}

// Kind returns the catalog kind
func (k *KEVSource) Kind() types.SourceKind {
	return types.KindCatalog
}

// Timeout returns the per-fetch timeout
func (k *KEVSource) Timeout() time.Duration {
	return k.timeout
}

// Fetch downloads the catalog and returns recently added entries
func (k *KEVSource) Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error) {
	logger := k.logger.WithFields(logrus.Fields{
		"operation": "fetch",
		"source":    k.Name(),
	})

	var feed catalog
	if err := k.client.GetJSON(ctx, k.url, nil, &feed); err != nil {
		return nil, fmt.Errorf("failed to fetch KEV catalog: %w", err)
	}

	cutoff := k.now().UTC().AddDate(0, 0, -k.windowDays)
	var records []types.VulnerabilityRecord
	skipped := 0
	for _, e := range feed.Vulnerabilities {
		rec, ok := toRecord(e)
		if !ok {
			skipped++
			continue
		}
		if rec.KEV.DateAdded == nil || rec.KEV.DateAdded.Before(cutoff) {
			continue
		}
		records = append(records, rec)
	}

	logger.WithFields(logrus.Fields{
		"catalog_size": len(feed.Vulnerabilities),
		"in_window":    len(records),
		"malformed":    skipped,
		"window_days":  k.windowDays,
	}).Info("Fetched known-exploited catalog")

	return records, nil
}

func toRecord(e entry) (types.VulnerabilityRecord, bool) {
	id, ok := extract.Normalize(e.CveID)
	if !ok {
		return types.VulnerabilityRecord{}, false
	}
	added, err := time.Parse(dateLayout, strings.TrimSpace(e.DateAdded))
	if err != nil {
		return types.VulnerabilityRecord{}, false
	}

	meta := &types.KEVMetadata{
		Vendor:           e.VendorProject,
		Product:          e.Product,
		Name:             e.VulnerabilityName,
		DateAdded:        &added,
		RansomwareLinked: strings.EqualFold(strings.TrimSpace(e.KnownRansomwareCampaignUse), "known"),
		RequiredAction:   e.RequiredAction,
	}
	if due, err := time.Parse(dateLayout, strings.TrimSpace(e.DueDate)); err == nil {
		meta.DueDate = &due
	}

	return types.VulnerabilityRecord{
		Identifier:     id,
		Description:    e.ShortDescription,
		Weakness:       e.CWEs,
		KnownExploited: true,
		KEV:            meta,
	}, true
}
