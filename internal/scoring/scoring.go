// ABOUTME: Attention score computation from media, social, exploit, and severity signals.
// ABOUTME: Each component is capped independently before summing; total is bounded to [0,100].

package scoring

import (
	"math"

	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/types"
)

// Scorer computes attention scores under a fixed policy
type Scorer struct {
	policy policy.Table
}

// NewScorer creates a scorer for the given policy table
func NewScorer(p policy.Table) *Scorer {
	return &Scorer{policy: p}
}

// Score returns the component breakdown and bounded total for a record.
// It reads only the record, so the result is reproducible for a snapshot.
func (s *Scorer) Score(r *types.VulnerabilityRecord) types.ScoreBreakdown {
	b := types.ScoreBreakdown{
		Media:    s.media(r),
		Social:   s.social(r),
		Exploit:  s.exploit(r),
		Severity: s.severity(r),
	}
	total := b.Media + b.Social + b.Exploit + b.Severity
	b.Total = round(clamp(total, 0, s.policy.MaxScore), s.policy.ScorePrecision)
	return b
}

// PreScore is the provisional score used to rank records before code-hosting
// enrichment: the exploit-code evidence is left out.
func (s *Scorer) PreScore(r *types.VulnerabilityRecord) float64 {
	withoutCode := *r
	withoutCode.ExploitSignal = nil
	return s.Score(&withoutCode).Total
}

func (s *Scorer) media(r *types.VulnerabilityRecord) float64 {
	if r.MediaWeight <= 0 {
		return 0
	}
	return clamp(r.MediaWeight*s.policy.MediaPointsPerWeight, 0, s.policy.MediaCap)
}

func (s *Scorer) social(r *types.VulnerabilityRecord) float64 {
	sig := r.SocialSignal
	if sig == nil {
		return 0
	}
	upvotes := clamp(float64(sig.TotalUpvotes)/s.policy.UpvotesPerPoint, 0, s.policy.UpvoteSubCap)
	posts := clamp(float64(sig.PostCount)*s.policy.PointsPerPost, 0, s.policy.PostSubCap)
	return clamp(upvotes+posts, 0, s.policy.SocialCap)
}

func (s *Scorer) exploit(r *types.VulnerabilityRecord) float64 {
	points := 0.0
	if r.KnownExploited {
		points += s.policy.KEVPoints
	}
	if r.ExploitProbability != nil {
		epss := clamp(*r.ExploitProbability, 0, 1)
		switch {
		case epss >= s.policy.HighEPSSThreshold:
			points += s.policy.HighEPSSPoints
		case epss >= s.policy.ModerateEPSSThreshold:
			points += s.policy.ModerateEPSSPoints
		}
	}
	if r.HasExploitCode() {
		points += s.policy.PoCPoints
	}
	if r.Ransomware() {
		points += s.policy.RansomwarePoints
	}
	return clamp(points, 0, s.policy.ExploitCap)
}

func (s *Scorer) severity(r *types.VulnerabilityRecord) float64 {
	points := 0.0
	switch EffectiveBand(r) {
	case types.SeverityCritical:
		points = s.policy.CriticalPoints
	case types.SeverityHigh:
		points = s.policy.HighPoints
	case types.SeverityMedium:
		points = s.policy.MediumPoints
	case types.SeverityLow:
		points = s.policy.LowPoints
	}
	if r.AgeDays != nil && *r.AgeDays <= s.policy.NewlyDisclosedDays {
		points += s.policy.NewBonus
	}
	return clamp(points, 0, s.policy.SeverityCap)
}

// EffectiveBand derives the band from the numeric score when one is present,
// otherwise falls back to the reported band. The reported band is not modified.
func EffectiveBand(r *types.VulnerabilityRecord) string {
	if r.BaseScore != nil {
		return BandForScore(*r.BaseScore)
	}
	return r.SeverityBand
}

// BandForScore maps a CVSS-style base score to its qualitative band
func BandForScore(score float64) string {
	switch {
	case score >= 9.0:
		return types.SeverityCritical
	case score >= 7.0:
		return types.SeverityHigh
	case score >= 4.0:
		return types.SeverityMedium
	case score > 0:
		return types.SeverityLow
	}
	return ""
}

// ClampBaseScore bounds a base score to [0,10]
func ClampBaseScore(v float64) float64 {
	return clamp(v, 0, 10)
}

// ClampProbability bounds a probability to [0,1]
func ClampProbability(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
