// ABOUTME: Layered priority classifier assigning one tier per vulnerability record.
// ABOUTME: Pure first-match decision procedure; time enters only through the record's age in days.

package classify

import (
	"fmt"
	"regexp"

	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/scoring"
	"github.com/jfeddern/ThreatPulse/internal/types"
)

// Display metadata per tier. Informational only.
var tierDisplay = map[types.Tier]struct{ label, style string }{
	types.TierZeroDayEmergency: {"Zero-Day Emergency", "critical-pulse"},
	types.TierZeroDay:          {"Zero-Day", "critical"},
	types.TierEmergency:        {"Emergency", "danger"},
	types.TierKEV:              {"Actively Exploited", "warning"},
	types.TierViral:            {"Viral", "info"},
	types.TierHot:              {"Trending", "accent"},
	types.TierStandard:         {"", ""},
}

// Remote code execution, privilege escalation, and command injection phrasing
var impactPattern = regexp.MustCompile(`(?i)(remote code execution|\bRCE\b|execute arbitrary (code|commands)|arbitrary code execution|code injection|privilege escalation|escalate privileges|elevation of privilege|command injection|OS command)`)

// Classifier evaluates records against a policy table
type Classifier struct {
	policy policy.Table
}

// NewClassifier creates a classifier for the given policy table
func NewClassifier(p policy.Table) *Classifier {
	return &Classifier{policy: p}
}

// ZeroDayConditions are the five conditions that must all hold for a zero-day
type ZeroDayConditions struct {
	NoPatch        bool // disclosed within the no-patch window
	NewlyDisclosed bool // disclosed within the newly-disclosed window
	Exploited      bool // known exploited or public PoC code
	NoMitigation   bool // no-patch window and CRITICAL/HIGH severity
	VendorUnaware  bool // media coverage while newly disclosed
}

// All reports whether every condition holds
func (z ZeroDayConditions) All() bool {
	return z.NoPatch && z.NewlyDisclosed && z.Exploited && z.NoMitigation && z.VendorUnaware
}

// ZeroDay evaluates the five zero-day conditions for a record
func (c *Classifier) ZeroDay(r *types.VulnerabilityRecord) ZeroDayConditions {
	band := reportedBand(r)
	var z ZeroDayConditions
	z.NoPatch = withinDays(r, c.policy.NoPatchDays)
	z.NewlyDisclosed = withinDays(r, c.policy.NewlyDisclosedDays)
	z.Exploited = r.KnownExploited || r.HasExploitCode()
	z.NoMitigation = z.NoPatch && (band == types.SeverityCritical || band == types.SeverityHigh)
	z.VendorUnaware = r.MediaCovered() && z.NewlyDisclosed
	return z
}

// Classify returns the tier for a record. The record's AttentionScore must
// already be computed; nothing else outside the record is consulted.
func (c *Classifier) Classify(r *types.VulnerabilityRecord) types.Classification {
	zd := c.ZeroDay(r)
	band := reportedBand(r)
	sources := r.DistinctMediaSources()

	if zd.All() {
		exposed := band == types.SeverityCritical &&
			(r.KnownExploited || sources >= c.policy.ExposureMinSources)
		if exposed {
			return c.verdict(types.TierZeroDayEmergency, append(zeroDayRationale(r, zd),
				fmt.Sprintf("critical severity with exposure (%s)", exposureReason(r, sources)))...)
		}
		return c.verdict(types.TierZeroDay, zeroDayRationale(r, zd)...)
	}

	if reasons, ok := c.emergency(r, band, sources); ok {
		return c.verdict(types.TierEmergency, reasons...)
	}

	if r.KnownExploited {
		reasons := []string{"listed in known-exploited catalog"}
		if r.Ransomware() {
			reasons = append(reasons, "linked to ransomware campaigns")
		}
		return c.verdict(types.TierKEV, reasons...)
	}

	if sources >= c.policy.ViralMinSources {
		return c.verdict(types.TierViral, fmt.Sprintf("covered by %d distinct media sources", sources))
	}

	if r.AttentionScore >= c.policy.HotScore {
		return c.verdict(types.TierHot, fmt.Sprintf("attention score %.1f at or above %.1f", r.AttentionScore, c.policy.HotScore))
	}

	return c.verdict(types.TierStandard)
}

// emergency applies the two-stage gate. Known-exploited status can count in
// both stages.
func (c *Classifier) emergency(r *types.VulnerabilityRecord, band string, sources int) ([]string, bool) {
	var gate []string
	if r.KnownExploited {
		gate = append(gate, "listed in known-exploited catalog")
	}
	if r.ExploitProbability != nil && *r.ExploitProbability >= c.policy.EmergencyEPSS {
		gate = append(gate, fmt.Sprintf("exploit probability %.2f at or above %.2f", *r.ExploitProbability, c.policy.EmergencyEPSS))
	}
	if len(gate) == 0 {
		return nil, false
	}

	var hits []string
	if impactPattern.MatchString(r.Description) {
		hits = append(hits, "remote code execution, privilege escalation, or command injection impact")
	}
	if r.MediaCovered() {
		hits = append(hits, "covered by media")
	}
	if withinDays(r, c.policy.ShortPatchDays) {
		hits = append(hits, fmt.Sprintf("disclosed within %d days", c.policy.ShortPatchDays))
	}
	if (r.BaseScore != nil && *r.BaseScore >= c.policy.CriticalScore) || band == types.SeverityCritical {
		hits = append(hits, "critical severity")
	}
	if r.KnownExploited || sources >= c.policy.ExposureMinSources {
		hits = append(hits, fmt.Sprintf("exposure (%s)", exposureReason(r, sources)))
	}
	if len(hits) < c.policy.EmergencyMinCount {
		return nil, false
	}

	reasons := append(gate, fmt.Sprintf("%d of 5 severity conditions", len(hits)))
	return append(reasons, hits...), true
}

func (c *Classifier) verdict(tier types.Tier, rationale ...string) types.Classification {
	d := tierDisplay[tier]
	if rationale == nil {
		rationale = []string{}
	}
	return types.Classification{
		Tier:      tier,
		Label:     d.label,
		Style:     d.style,
		Rationale: rationale,
	}
}

func zeroDayRationale(r *types.VulnerabilityRecord, zd ZeroDayConditions) []string {
	reasons := []string{fmt.Sprintf("disclosed %d day(s) ago", *r.AgeDays)}
	if r.KnownExploited {
		reasons = append(reasons, "listed in known-exploited catalog")
	}
	if r.HasExploitCode() {
		reasons = append(reasons, fmt.Sprintf("%d public PoC repositories", r.ExploitSignal.RepoCount))
	}
	reasons = append(reasons, fmt.Sprintf("%s severity", reportedBand(r)))
	reasons = append(reasons, fmt.Sprintf("media coverage from %d source(s)", r.DistinctMediaSources()))
	return reasons
}

func exposureReason(r *types.VulnerabilityRecord, sources int) string {
	if r.KnownExploited {
		return "known exploited"
	}
	return fmt.Sprintf("%d media sources", sources)
}

// reportedBand prefers the band reported by the source and derives one from
// the numeric score only when no band was reported.
func reportedBand(r *types.VulnerabilityRecord) string {
	if r.SeverityBand != "" {
		return r.SeverityBand
	}
	return scoring.EffectiveBand(r)
}

func withinDays(r *types.VulnerabilityRecord, days int) bool {
	return r.AgeDays != nil && *r.AgeDays <= days
}
