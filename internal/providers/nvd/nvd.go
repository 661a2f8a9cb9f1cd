// ABOUTME: Vulnerability database connector for the NVD CVE API 2.0.
// ABOUTME: One instance per severity band, paging through a trailing publish window.

package nvd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/providers/httpclient"
	"github.com/jfeddern/ThreatPulse/internal/scoring"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public CVE API endpoint
const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

const (
	queryDateLayout = "2006-01-02T15:04:05.000"
	resultsPerPage  = 2000
	maxPages        = 5
)

// Bands lists the severity bands queried, one connector each
var Bands = []string{
	types.SeverityCritical,
	types.SeverityHigh,
	types.SeverityMedium,
	types.SeverityLow,
}

type response struct {
	ResultsPerPage  int    `json:"resultsPerPage"`
	StartIndex      int    `json:"startIndex"`
	TotalResults    int    `json:"totalResults"`
	Vulnerabilities []item `json:"vulnerabilities"`
}

type item struct {
	CVE cve `json:"cve"`
}

type cve struct {
	ID           string        `json:"id"`
	Published    string        `json:"published"`
	VulnStatus   string        `json:"vulnStatus"`
	Descriptions []langString  `json:"descriptions"`
	Metrics      metrics       `json:"metrics"`
	Weaknesses   []weaknessSet `json:"weaknesses"`
}

type langString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type weaknessSet struct {
	Source      string       `json:"source"`
	Description []langString `json:"description"`
}

type metrics struct {
	V40 []cvssMetric `json:"cvssMetricV40"`
	V31 []cvssMetric `json:"cvssMetricV31"`
	V30 []cvssMetric `json:"cvssMetricV30"`
	V2  []cvssMetric `json:"cvssMetricV2"`
}

type cvssMetric struct {
	Type         string   `json:"type"`
	CVSSData     cvssData `json:"cvssData"`
	BaseSeverity string   `json:"baseSeverity"` // v2 carries severity outside cvssData
}

type cvssData struct {
	Version      string  `json:"version"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

// Source implements the engine connector for one NVD severity band
type Source struct {
	client     *httpclient.Client
	baseURL    string
	band       string
	apiKey     string
	windowDays int
	timeout    time.Duration
	now        func() time.Time
	logger     *logrus.Logger
}

// NewSource creates a connector for band. An empty baseURL selects the public API.
func NewSource(client *httpclient.Client, baseURL, band, apiKey string, windowDays int, logger *logrus.Logger) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if windowDays <= 0 {
		windowDays = 14
	}
	return &Source{
		client:     client,
		baseURL:    baseURL,
		band:       strings.ToUpper(band),
		apiKey:     apiKey,
		windowDays: windowDays,
		timeout:    15 * time.Second,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the clock used for the publish window
func (s *Source) WithClock(now func() time.Time) *Source {
	s.now = now
	return s
}

// Name returns the connector name
func (s *Source) Name() string {
	return "nvd-" + strings.ToLower(s.band)
}

// Kind returns the database kind
func (s *Source) Kind() types.SourceKind {
	return types.KindDatabase
}

// Timeout returns the per-fetch timeout
func (s *Source) Timeout() time.Duration {
	return s.timeout
}

// Fetch pages through the publish window. Records from pages fetched before
// an error are returned alongside it.
func (s *Source) Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"operation": "fetch",
		"source":    s.Name(),
	})

	end := s.now().UTC()
	start := end.AddDate(0, 0, -s.windowDays)

	var headers map[string]string
	if s.apiKey != "" {
		headers = map[string]string{"apiKey": s.apiKey}
	}

	var records []types.VulnerabilityRecord
	startIndex := 0
	for page := 0; page < maxPages; page++ {
		var resp response
		if err := s.client.GetJSON(ctx, s.pageURL(start, end, startIndex), headers, &resp); err != nil {
			return records, fmt.Errorf("failed to fetch page at index %d: %w", startIndex, err)
		}

		for _, it := range resp.Vulnerabilities {
			if rec, ok := toRecord(it.CVE); ok {
				records = append(records, rec)
			}
		}

		startIndex += len(resp.Vulnerabilities)
		if len(resp.Vulnerabilities) == 0 || startIndex >= resp.TotalResults {
			break
		}
	}

	logger.WithFields(logrus.Fields{
		"records":     len(records),
		"window_days": s.windowDays,
	}).Info("Fetched vulnerability database records")

	return records, nil
}

func (s *Source) pageURL(start, end time.Time, startIndex int) string {
	q := url.Values{}
	q.Set("pubStartDate", start.Format(queryDateLayout))
	q.Set("pubEndDate", end.Format(queryDateLayout))
	q.Set("cvssV3Severity", s.band)
	q.Set("resultsPerPage", strconv.Itoa(resultsPerPage))
	q.Set("startIndex", strconv.Itoa(startIndex))
	return s.baseURL + "?" + q.Encode()
}

func toRecord(c cve) (types.VulnerabilityRecord, bool) {
	id, ok := extract.Normalize(c.ID)
	if !ok {
		return types.VulnerabilityRecord{}, false
	}

	rec := types.VulnerabilityRecord{
		Identifier:  id,
		Description: englishDescription(c.Descriptions),
		Weakness:    weaknessIDs(c.Weaknesses),
	}
	if score, band, ok := bestCVSS(c.Metrics); ok {
		rec.BaseScore = &score
		rec.SeverityBand = band
	}
	if published, ok := parsePublished(c.Published); ok {
		rec.PublishedAt = &published
	}
	return rec, true
}

// bestCVSS picks the richest scoring sub-record: v4.0, then v3.1, v3.0, v2
func bestCVSS(m metrics) (float64, string, bool) {
	for _, set := range [][]cvssMetric{m.V40, m.V31, m.V30, m.V2} {
		if len(set) == 0 {
			continue
		}
		chosen := set[0]
		for _, metric := range set {
			if metric.Type == "Primary" {
				chosen = metric
				break
			}
		}
		score := scoring.ClampBaseScore(chosen.CVSSData.BaseScore)
		band := strings.ToUpper(chosen.CVSSData.BaseSeverity)
		if band == "" {
			band = strings.ToUpper(chosen.BaseSeverity)
		}
		if band == "" || band == "NONE" {
			band = scoring.BandForScore(score)
		}
		return score, band, true
	}
	return 0, "", false
}

func englishDescription(descriptions []langString) string {
	for _, d := range descriptions {
		if d.Lang == "en" {
			return strings.TrimSpace(d.Value)
		}
	}
	if len(descriptions) > 0 {
		return strings.TrimSpace(descriptions[0].Value)
	}
	return ""
}

func weaknessIDs(sets []weaknessSet) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, set := range sets {
		for _, d := range set.Description {
			v := strings.TrimSpace(d.Value)
			if !strings.HasPrefix(v, "CWE-") {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			ids = append(ids, v)
		}
	}
	return ids
}

func parsePublished(v string) (time.Time, bool) {
	for _, layout := range []string{queryDateLayout, "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
