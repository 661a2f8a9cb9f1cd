// ABOUTME: Merges normalized records from all connectors into one record per identifier.
// ABOUTME: Applies sources by precedence rank so structured fields never yield to free-text sources.

package correlate

import (
	"sort"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/scoring"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// Correlator merges source responses by identifier
type Correlator struct {
	policy policy.Table
	logger *logrus.Logger
}

// NewCorrelator creates a correlator for the given policy
func NewCorrelator(p policy.Table, logger *logrus.Logger) *Correlator {
	return &Correlator{
		policy: p,
		logger: logger,
	}
}

type draft struct {
	record     types.VulnerabilityRecord
	structured bool
	mediaURLs  map[string]struct{}
}

// Correlate merges the records of every response into one record per
// identifier, sorted by identifier. Responses from failed connectors still
// contribute whatever partial records they carry. Enrichment responses are
// ignored here.
func (c *Correlator) Correlate(responses []types.SourceResponse) []types.VulnerabilityRecord {
	logger := c.logger.WithField("component", "correlator")

	ordered := make([]types.SourceResponse, 0, len(responses))
	for _, resp := range responses {
		if resp.Kind == types.KindEnrichment {
			continue
		}
		ordered = append(ordered, resp)
	}
	// Text first, then catalog, then database; later ranks overwrite earlier
	// ones. Stable so that discovery order within a rank is preserved.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind < ordered[j].Kind
	})

	drafts := make(map[string]*draft)
	skipped := 0
	for _, resp := range ordered {
		for i := range resp.Records {
			in := &resp.Records[i]
			id, ok := extract.Normalize(in.Identifier)
			if !ok {
				skipped++
				continue
			}
			d, exists := drafts[id]
			if !exists {
				d = &draft{
					record:    types.VulnerabilityRecord{Identifier: id},
					mediaURLs: make(map[string]struct{}),
				}
				drafts[id] = d
			}
			c.merge(d, in, resp)
		}
	}

	out := make([]types.VulnerabilityRecord, 0, len(drafts))
	dropped := 0
	for _, d := range drafts {
		if !c.admissible(d) {
			dropped++
			continue
		}
		out = append(out, d.record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier < out[j].Identifier
	})

	logger.WithFields(logrus.Fields{
		"responses":          len(ordered),
		"records":            len(out),
		"below_evidence":     dropped,
		"invalid_identifier": skipped,
	}).Debug("Correlation completed")

	return out
}

func (c *Correlator) merge(d *draft, in *types.VulnerabilityRecord, resp types.SourceResponse) {
	rec := &d.record
	structured := resp.Kind.Structured()

	if structured || !d.structured {
		c.mergeScalars(rec, in, structured)
	}
	if structured {
		d.structured = true
	}

	if in.KnownExploited {
		rec.KnownExploited = true
	}
	if in.KEV != nil && (structured || rec.KEV == nil) {
		kev := *in.KEV
		rec.KEV = &kev
	}

	kept := 0
	for _, m := range in.MediaMentions {
		key := m.SourceName + "|" + m.URL
		if _, dup := d.mediaURLs[key]; dup && m.URL != "" {
			continue
		}
		d.mediaURLs[key] = struct{}{}
		rec.MediaMentions = append(rec.MediaMentions, m)
		kept++
	}
	// Weight of an item already counted is not added twice
	if in.MediaWeight > 0 && (kept > 0 || len(in.MediaMentions) == 0) {
		rec.MediaWeight += in.MediaWeight
	}

	if in.SocialSignal != nil {
		rec.SocialSignal = mergeSocial(rec.SocialSignal, in.SocialSignal)
	}
	if in.ExploitProbability != nil {
		p := scoring.ClampProbability(*in.ExploitProbability)
		if rec.ExploitProbability == nil || p > *rec.ExploitProbability {
			rec.ExploitProbability = &p
		}
	}
	if in.ExploitSignal != nil && rec.ExploitSignal == nil {
		sig := *in.ExploitSignal
		sig.RepoList = append([]types.ExploitRepo(nil), in.ExploitSignal.RepoList...)
		rec.ExploitSignal = &sig
	}

	addSource(rec, resp.SourceName)
}

// mergeScalars sets description, score, band, weakness, and publish date.
// Structured input overwrites; text input only fills empty fields and only
// while no structured source has touched the draft.
func (c *Correlator) mergeScalars(rec, in *types.VulnerabilityRecord, overwrite bool) {
	if in.Description != "" && (overwrite || rec.Description == "") {
		rec.Description = in.Description
	}
	if in.BaseScore != nil && (overwrite || rec.BaseScore == nil) {
		s := scoring.ClampBaseScore(*in.BaseScore)
		rec.BaseScore = &s
	}
	if in.SeverityBand != "" && (overwrite || rec.SeverityBand == "") {
		rec.SeverityBand = in.SeverityBand
	}
	if len(in.Weakness) > 0 && (overwrite || len(rec.Weakness) == 0) {
		rec.Weakness = append([]string(nil), in.Weakness...)
	}
	if in.PublishedAt != nil && (overwrite || rec.PublishedAt == nil) {
		p := *in.PublishedAt
		rec.PublishedAt = &p
	}
}

// admissible drops records supported only by weak social evidence
func (c *Correlator) admissible(d *draft) bool {
	if d.structured || d.record.MediaCovered() || d.record.KnownExploited {
		return true
	}
	sig := d.record.SocialSignal
	if sig == nil {
		// No evidence of any kind beyond enrichment-style fields
		return d.record.ExploitProbability != nil || d.record.ExploitSignal != nil
	}
	return sig.TotalUpvotes >= c.policy.SocialOnlyMinUpvotes
}

func mergeSocial(cur, in *types.SocialSignal) *types.SocialSignal {
	if cur == nil {
		s := *in
		return &s
	}
	merged := *cur
	merged.PostCount += in.PostCount
	merged.TotalUpvotes += in.TotalUpvotes
	if in.TopPostScore > merged.TopPostScore || merged.TopCommunity == "" {
		merged.TopPostScore = in.TopPostScore
		merged.TopCommunity = in.TopCommunity
	}
	return &merged
}

func addSource(rec *types.VulnerabilityRecord, name string) {
	if name == "" {
		return
	}
	for _, s := range rec.Sources {
		if s == name {
			return
		}
	}
	rec.Sources = append(rec.Sources, name)
}
