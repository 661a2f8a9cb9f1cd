// ABOUTME: Named scoring weights, component caps, tier thresholds, and time windows.
// ABOUTME: Single tuning table consumed by the scoring engine, classifier, correlator, and enricher.

package policy

import (
	"fmt"
	"time"
)

// Table holds every tunable number used by the pipeline.
// Field names double as YAML keys in the sources file.
type Table struct {
	// Media component
	MediaPointsPerWeight float64 `yaml:"media_points_per_weight"`
	MediaCap             float64 `yaml:"media_cap"`

	// Social component
	UpvotesPerPoint float64 `yaml:"upvotes_per_point"`
	UpvoteSubCap    float64 `yaml:"upvote_sub_cap"`
	PointsPerPost   float64 `yaml:"points_per_post"`
	PostSubCap      float64 `yaml:"post_sub_cap"`
	SocialCap       float64 `yaml:"social_cap"`

	// Exploit-evidence component
	KEVPoints             float64 `yaml:"kev_points"`
	HighEPSSThreshold     float64 `yaml:"high_epss_threshold"`
	HighEPSSPoints        float64 `yaml:"high_epss_points"`
	ModerateEPSSThreshold float64 `yaml:"moderate_epss_threshold"`
	ModerateEPSSPoints    float64 `yaml:"moderate_epss_points"`
	PoCPoints             float64 `yaml:"poc_points"`
	RansomwarePoints      float64 `yaml:"ransomware_points"`
	ExploitCap            float64 `yaml:"exploit_cap"`

	// Severity/recency component
	CriticalPoints float64 `yaml:"critical_points"`
	HighPoints     float64 `yaml:"high_points"`
	MediumPoints   float64 `yaml:"medium_points"`
	LowPoints      float64 `yaml:"low_points"`
	NewBonus       float64 `yaml:"new_bonus"`
	SeverityCap    float64 `yaml:"severity_cap"`

	MaxScore       float64 `yaml:"max_score"`
	ScorePrecision int     `yaml:"score_precision"`

	// Classifier thresholds
	NoPatchDays        int     `yaml:"no_patch_days"`
	NewlyDisclosedDays int     `yaml:"newly_disclosed_days"`
	ShortPatchDays     int     `yaml:"short_patch_days"`
	EmergencyEPSS      float64 `yaml:"emergency_epss"`
	EmergencyMinCount  int     `yaml:"emergency_min_count"`
	CriticalScore      float64 `yaml:"critical_score"`
	ExposureMinSources int     `yaml:"exposure_min_sources"`
	ViralMinSources    int     `yaml:"viral_min_sources"`
	HotScore           float64 `yaml:"hot_score"`

	// Correlation and output shaping
	SocialOnlyMinUpvotes int           `yaml:"social_only_min_upvotes"`
	TopN                 int           `yaml:"top_n"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`

	// Enrichment budgets
	EPSSBatchSize      int           `yaml:"epss_batch_size"`
	MaxCodeSearches    int           `yaml:"max_code_searches"`
	CodeSearchInterval time.Duration `yaml:"code_search_interval"`
	EnrichmentBudget   time.Duration `yaml:"enrichment_budget"`
}

// Default returns the baseline policy
func Default() Table {
	return Table{
		MediaPointsPerWeight: 5,
		MediaCap:             30,

		UpvotesPerPoint: 20,
		UpvoteSubCap:    15,
		PointsPerPost:   2,
		PostSubCap:      10,
		SocialCap:       25,

		KEVPoints:             15,
		HighEPSSThreshold:     0.5,
		HighEPSSPoints:        5,
		ModerateEPSSThreshold: 0.1,
		ModerateEPSSPoints:    2,
		PoCPoints:             5,
		RansomwarePoints:      5,
		ExploitCap:            25,

		CriticalPoints: 15,
		HighPoints:     10,
		MediumPoints:   5,
		LowPoints:      2,
		NewBonus:       5,
		SeverityCap:    20,

		MaxScore:       100,
		ScorePrecision: 1,

		NoPatchDays:        2,
		NewlyDisclosedDays: 3,
		ShortPatchDays:     7,
		EmergencyEPSS:      0.85,
		EmergencyMinCount:  3,
		CriticalScore:      9.0,
		ExposureMinSources: 2,
		ViralMinSources:    3,
		HotScore:           35,

		SocialOnlyMinUpvotes: 10,
		TopN:                 30,
		CacheTTL:             15 * time.Minute,

		EPSSBatchSize:      100,
		MaxCodeSearches:    12,
		CodeSearchInterval: 2 * time.Second,
		EnrichmentBudget:   45 * time.Second,
	}
}

// Validate rejects tables that would break the score bounds or the pipeline
func (t Table) Validate() error {
	caps := map[string]float64{
		"media_cap":    t.MediaCap,
		"social_cap":   t.SocialCap,
		"exploit_cap":  t.ExploitCap,
		"severity_cap": t.SeverityCap,
	}
	for name, v := range caps {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	if t.MaxScore <= 0 {
		return fmt.Errorf("max_score must be positive, got %v", t.MaxScore)
	}
	if t.UpvotesPerPoint <= 0 {
		return fmt.Errorf("upvotes_per_point must be positive, got %v", t.UpvotesPerPoint)
	}
	if t.ScorePrecision < 0 || t.ScorePrecision > 6 {
		return fmt.Errorf("score_precision must be between 0 and 6, got %d", t.ScorePrecision)
	}
	if t.NoPatchDays > t.NewlyDisclosedDays {
		return fmt.Errorf("no_patch_days (%d) must not exceed newly_disclosed_days (%d)", t.NoPatchDays, t.NewlyDisclosedDays)
	}
	if t.EmergencyEPSS < 0 || t.EmergencyEPSS > 1 {
		return fmt.Errorf("emergency_epss must be within [0,1], got %v", t.EmergencyEPSS)
	}
	if t.TopN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d", t.TopN)
	}
	if t.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %v", t.CacheTTL)
	}
	if t.EPSSBatchSize <= 0 {
		return fmt.Errorf("epss_batch_size must be positive, got %d", t.EPSSBatchSize)
	}
	if t.MaxCodeSearches < 0 {
		return fmt.Errorf("max_code_searches must not be negative, got %d", t.MaxCodeSearches)
	}
	if t.EnrichmentBudget < 0 {
		return fmt.Errorf("enrichment_budget must not be negative, got %v", t.EnrichmentBudget)
	}
	return nil
}
