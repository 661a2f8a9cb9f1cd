// ABOUTME: Result assembly for one aggregation cycle.
// ABOUTME: Scores, classifies, ranks, truncates, and summarises correlated records.

package engine

import (
	"sort"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/types"
)

func (e *Engine) assemble(cycleID string, records []types.VulnerabilityRecord, responses []types.SourceResponse, generatedAt time.Time) *types.AggregateResult {
	for i := range records {
		r := &records[i]
		breakdown := e.scorer.Score(r)
		r.AttentionScore = breakdown.Total
		r.ScoreBreakdown = &breakdown
		r.Classification = e.classifier.Classify(r)
		if r.MediaMentions == nil {
			r.MediaMentions = []types.MediaMention{}
		}
		if r.Sources == nil {
			r.Sources = []string{}
		}
	}

	Rank(records)

	correlated := len(records)
	if topN := e.config.Policy.TopN; topN > 0 && len(records) > topN {
		records = records[:topN]
	}

	result := &types.AggregateResult{
		CycleID:       cycleID,
		Records:       records,
		SourceHealth:  make(map[string]string, len(responses)),
		SourceDetails: make(map[string]types.SourceDetail, len(responses)),
		GeneratedAt:   generatedAt,
	}
	result.Stats = summarize(records, responses)
	result.Stats.Correlated = correlated

	for _, resp := range responses {
		result.SourceHealth[resp.SourceName] = healthLabel(resp.Status)
		detail := types.SourceDetail{
			Status:     resp.Status,
			Kind:       resp.Kind.String(),
			Records:    len(resp.Records),
			DurationMS: resp.Duration.Milliseconds(),
			Partial:    resp.Partial,
		}
		if resp.Err != nil {
			detail.Error = resp.Err.Error()
		}
		result.SourceDetails[resp.SourceName] = detail
	}

	return result
}

// Rank orders records by attention score descending, ties by identifier
func Rank(records []types.VulnerabilityRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].AttentionScore != records[j].AttentionScore {
			return records[i].AttentionScore > records[j].AttentionScore
		}
		return records[i].Identifier < records[j].Identifier
	})
}

func summarize(records []types.VulnerabilityRecord, responses []types.SourceResponse) types.AggregateStats {
	stats := types.AggregateStats{
		Total:         len(records),
		ByTier:        make(map[types.Tier]int, len(types.AllTiers)),
		BySourceCount: make(map[string]int),
	}
	for _, tier := range types.AllTiers {
		stats.ByTier[tier] = 0
	}

	for i := range records {
		r := &records[i]
		stats.ByTier[r.Classification.Tier]++
		stats.TotalMediaMentions += len(r.MediaMentions)
		if r.KnownExploited {
			stats.KnownExploited++
		}
		if r.HasExploitCode() {
			stats.WithExploitCode++
		}
	}

	for _, resp := range responses {
		if resp.Kind == types.KindEnrichment {
			continue
		}
		stats.BySourceCount[resp.SourceName] = len(resp.Records)
	}
	return stats
}

func healthLabel(status types.SourceStatus) string {
	if status == types.StatusOK {
		return "ok"
	}
	return "failed"
}
