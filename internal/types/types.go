// ABOUTME: Common types shared across the ThreatPulse system.
// ABOUTME: Defines vulnerability records, per-source responses, and the aggregate output contract.

package types

import (
	"slices"
	"time"
)

// Severity bands reported by structured sources
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// SourceKind determines merge precedence in the correlator
type SourceKind int

const (
	// KindText sources extract identifiers from free text (news, social)
	KindText SourceKind = iota
	// KindCatalog is the known-exploited catalog
	KindCatalog
	// KindDatabase is the vulnerability database
	KindDatabase
	// KindEnrichment sources run after correlation
	KindEnrichment
)

func (k SourceKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCatalog:
		return "catalog"
	case KindDatabase:
		return "database"
	case KindEnrichment:
		return "enrichment"
	}
	return "unknown"
}

// Structured reports whether the kind carries authoritative record fields
func (k SourceKind) Structured() bool {
	return k == KindCatalog || k == KindDatabase
}

// SourceStatus is the outcome of one connector call in one cycle
type SourceStatus string

const (
	StatusOK      SourceStatus = "OK"
	StatusFailed  SourceStatus = "FAILED"
	StatusTimeout SourceStatus = "TIMEOUT"
)

// KEVMetadata holds known-exploited catalog details for a record
type KEVMetadata struct {
	Vendor           string     `json:"vendor,omitempty"`
	Product          string     `json:"product,omitempty"`
	Name             string     `json:"name,omitempty"`
	DateAdded        *time.Time `json:"dateAdded,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	RansomwareLinked bool       `json:"ransomwareLinked"`
	RequiredAction   string     `json:"requiredAction,omitempty"`
}

// MediaMention is a single news item that referenced the record
type MediaMention struct {
	SourceName string     `json:"sourceName"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	Date       *time.Time `json:"date,omitempty"`
}

// SocialSignal summarises discussion in social communities
type SocialSignal struct {
	PostCount    int    `json:"postCount"`
	TotalUpvotes int    `json:"totalUpvotes"`
	TopCommunity string `json:"topCommunity,omitempty"`
	TopPostScore int    `json:"topPostScore"`
}

// ExploitRepo is a public code repository that looks like a PoC
type ExploitRepo struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Stars int    `json:"stars"`
}

// ExploitSignal summarises proof-of-concept code found on code hosting
type ExploitSignal struct {
	RepoCount int           `json:"repoCount"`
	StarSum   int           `json:"starSum"`
	RepoList  []ExploitRepo `json:"repoList"`
}

// Tier is the discrete priority assigned by the classifier
type Tier string

const (
	TierZeroDayEmergency Tier = "ZERO_DAY_EMERGENCY"
	TierZeroDay          Tier = "ZERO_DAY"
	TierEmergency        Tier = "EMERGENCY"
	TierKEV              Tier = "KEV"
	TierViral            Tier = "VIRAL"
	TierHot              Tier = "HOT"
	TierStandard         Tier = "STANDARD"
)

// AllTiers lists the tiers in precedence order
var AllTiers = []Tier{
	TierZeroDayEmergency,
	TierZeroDay,
	TierEmergency,
	TierKEV,
	TierViral,
	TierHot,
	TierStandard,
}

// Classification is the classifier verdict for one record
type Classification struct {
	Tier      Tier     `json:"tier"`
	Label     string   `json:"label,omitempty"`
	Style     string   `json:"style,omitempty"`
	Rationale []string `json:"rationale"`
}

// ScoreBreakdown holds the capped components of the attention score
type ScoreBreakdown struct {
	Media    float64 `json:"media"`
	Social   float64 `json:"social"`
	Exploit  float64 `json:"exploit"`
	Severity float64 `json:"severity"`
	Total    float64 `json:"total"`
}

// VulnerabilityRecord is the correlated view of one vulnerability identifier
type VulnerabilityRecord struct {
	Identifier         string          `json:"identifier"`
	Description        string          `json:"description"`
	SeverityBand       string          `json:"severityBand,omitempty"`
	BaseScore          *float64        `json:"baseScore,omitempty"`
	Weakness           []string        `json:"weakness,omitempty"`
	PublishedAt        *time.Time      `json:"publishedAt,omitempty"`
	AgeDays            *int            `json:"ageDays,omitempty"`
	ExploitProbability *float64        `json:"exploitProbability,omitempty"`
	KnownExploited     bool            `json:"knownExploited"`
	KEV                *KEVMetadata    `json:"kev,omitempty"`
	MediaMentions      []MediaMention  `json:"mediaMentions"`
	MediaWeight        float64         `json:"mediaWeight"`
	SocialSignal       *SocialSignal   `json:"socialSignal,omitempty"`
	ExploitSignal      *ExploitSignal  `json:"exploitSignal,omitempty"`
	Sources            []string        `json:"sources"`
	AttentionScore     float64         `json:"attentionScore"`
	ScoreBreakdown     *ScoreBreakdown `json:"scoreBreakdown,omitempty"`
	Classification     Classification  `json:"classification"`
}

// DistinctMediaSources counts unique source names among the media mentions
func (r *VulnerabilityRecord) DistinctMediaSources() int {
	seen := make(map[string]struct{}, len(r.MediaMentions))
	for _, m := range r.MediaMentions {
		seen[m.SourceName] = struct{}{}
	}
	return len(seen)
}

// MediaCovered reports whether at least one news item mentioned the record
func (r *VulnerabilityRecord) MediaCovered() bool {
	return len(r.MediaMentions) > 0
}

// HasExploitCode reports whether code-hosting search found PoC repositories
func (r *VulnerabilityRecord) HasExploitCode() bool {
	return r.ExploitSignal != nil && r.ExploitSignal.RepoCount > 0
}

// Ransomware reports whether the catalog links the record to ransomware campaigns
func (r *VulnerabilityRecord) Ransomware() bool {
	return r.KEV != nil && r.KEV.RansomwareLinked
}

// Clone returns a deep copy so derived fields can be recomputed without aliasing
func (r *VulnerabilityRecord) Clone() VulnerabilityRecord {
	c := *r
	if r.BaseScore != nil {
		v := *r.BaseScore
		c.BaseScore = &v
	}
	if r.ExploitProbability != nil {
		v := *r.ExploitProbability
		c.ExploitProbability = &v
	}
	if r.PublishedAt != nil {
		v := *r.PublishedAt
		c.PublishedAt = &v
	}
	if r.AgeDays != nil {
		v := *r.AgeDays
		c.AgeDays = &v
	}
	if r.KEV != nil {
		v := *r.KEV
		c.KEV = &v
	}
	if r.SocialSignal != nil {
		v := *r.SocialSignal
		c.SocialSignal = &v
	}
	if r.ExploitSignal != nil {
		v := *r.ExploitSignal
		v.RepoList = slices.Clone(r.ExploitSignal.RepoList)
		c.ExploitSignal = &v
	}
	if r.ScoreBreakdown != nil {
		v := *r.ScoreBreakdown
		c.ScoreBreakdown = &v
	}
	c.Weakness = slices.Clone(r.Weakness)
	c.MediaMentions = slices.Clone(r.MediaMentions)
	c.Sources = slices.Clone(r.Sources)
	c.Classification.Rationale = slices.Clone(r.Classification.Rationale)
	return c
}

// SourceResponse is the result of one connector call in one aggregation cycle
type SourceResponse struct {
	SourceName string                `json:"sourceName"`
	Kind       SourceKind            `json:"-"`
	Status     SourceStatus          `json:"status"`
	Records    []VulnerabilityRecord `json:"-"`
	Err        error                 `json:"-"`
	Duration   time.Duration         `json:"-"`
	// Partial marks an enrichment that stopped early, e.g. on quota exhaustion
	Partial bool `json:"-"`
}

// SourceDetail is the per-source health entry exposed in the aggregate payload
type SourceDetail struct {
	Status     SourceStatus `json:"status"`
	Kind       string       `json:"kind"`
	Records    int          `json:"records"`
	DurationMS int64        `json:"durationMs"`
	Partial    bool         `json:"partial,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// AggregateStats holds counts over the assembled result
type AggregateStats struct {
	Total              int            `json:"total"`
	Correlated         int            `json:"correlated"`
	ByTier             map[Tier]int   `json:"byTier"`
	BySourceCount      map[string]int `json:"bySourceCount"`
	TotalMediaMentions int            `json:"totalMediaMentions"`
	KnownExploited     int            `json:"knownExploited"`
	WithExploitCode    int            `json:"withExploitCode"`
}

// AggregateResult is the payload produced by one successful cycle
type AggregateResult struct {
	CycleID       string                  `json:"cycleId"`
	Records       []VulnerabilityRecord   `json:"records"`
	Stats         AggregateStats          `json:"stats"`
	SourceHealth  map[string]string       `json:"sourceHealth"`
	SourceDetails map[string]SourceDetail `json:"sourceDetails"`
	GeneratedAt   time.Time               `json:"generatedAt"`
	Duration      time.Duration           `json:"-"`
}

// AggregateResponse annotates a result with cache metadata for one request
type AggregateResponse struct {
	*AggregateResult
	Cached             bool   `json:"cached"`
	CacheAgeSeconds    *int64 `json:"cacheAgeSeconds,omitempty"`
	NextRefreshSeconds *int64 `json:"nextRefreshSeconds,omitempty"`
	Stale              bool   `json:"stale,omitempty"`
}
