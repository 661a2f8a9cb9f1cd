// ABOUTME: Unit tests for attention score computation.
// ABOUTME: Tests per-component caps, total bounds, band derivation, and pre-scoring.

package scoring

import (
	"math"
	"testing"

	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/stretchr/testify/assert"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

func TestScoreComponents(t *testing.T) {
	scorer := NewScorer(policy.Default())

	tests := []struct {
		name   string
		record types.VulnerabilityRecord
		want   types.ScoreBreakdown
	}{
		{
			name:   "empty record scores zero",
			record: types.VulnerabilityRecord{Identifier: "CVE-2024-0001"},
			want:   types.ScoreBreakdown{},
		},
		{
			name: "media weight below cap",
			record: types.VulnerabilityRecord{
				Identifier:  "CVE-2024-0002",
				MediaWeight: 3,
			},
			want: types.ScoreBreakdown{Media: 15, Total: 15},
		},
		{
			name: "media weight saturates at cap",
			record: types.VulnerabilityRecord{
				Identifier:  "CVE-2024-0003",
				MediaWeight: 50,
			},
			want: types.ScoreBreakdown{Media: 30, Total: 30},
		},
		{
			name: "social sub caps",
			record: types.VulnerabilityRecord{
				Identifier:   "CVE-2024-0004",
				SocialSignal: &types.SocialSignal{PostCount: 3, TotalUpvotes: 100},
			},
			want: types.ScoreBreakdown{Social: 11, Total: 11},
		},
		{
			name: "social total cap",
			record: types.VulnerabilityRecord{
				Identifier:   "CVE-2024-0005",
				SocialSignal: &types.SocialSignal{PostCount: 40, TotalUpvotes: 10000},
			},
			want: types.ScoreBreakdown{Social: 25, Total: 25},
		},
		{
			name: "exploit evidence saturates",
			record: types.VulnerabilityRecord{
				Identifier:         "CVE-2024-0006",
				KnownExploited:     true,
				KEV:                &types.KEVMetadata{RansomwareLinked: true},
				ExploitProbability: ptrFloat(0.97),
				ExploitSignal:      &types.ExploitSignal{RepoCount: 2},
			},
			want: types.ScoreBreakdown{Exploit: 25, Total: 25},
		},
		{
			name: "moderate exploit probability",
			record: types.VulnerabilityRecord{
				Identifier:         "CVE-2024-0007",
				ExploitProbability: ptrFloat(0.2),
			},
			want: types.ScoreBreakdown{Exploit: 2, Total: 2},
		},
		{
			name: "critical and new",
			record: types.VulnerabilityRecord{
				Identifier:   "CVE-2024-0008",
				SeverityBand: types.SeverityCritical,
				AgeDays:      ptrInt(1),
			},
			want: types.ScoreBreakdown{Severity: 20, Total: 20},
		},
		{
			name: "base score wins over reported band for points",
			record: types.VulnerabilityRecord{
				Identifier:   "CVE-2024-0009",
				SeverityBand: types.SeverityCritical,
				BaseScore:    ptrFloat(5.0),
				AgeDays:      ptrInt(30),
			},
			want: types.ScoreBreakdown{Severity: 5, Total: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(&tt.record)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreBounded(t *testing.T) {
	p := policy.Default()
	// Inflate caps so the component sum exceeds the maximum
	p.MediaCap, p.SocialCap, p.ExploitCap, p.SeverityCap = 80, 80, 80, 80
	scorer := NewScorer(p)

	r := types.VulnerabilityRecord{
		Identifier:         "CVE-2025-9999",
		MediaWeight:        1000,
		SocialSignal:       &types.SocialSignal{PostCount: 1000, TotalUpvotes: 1e6},
		KnownExploited:     true,
		ExploitProbability: ptrFloat(7), // out of range input is clamped
		SeverityBand:       types.SeverityCritical,
		AgeDays:            ptrInt(0),
	}
	got := scorer.Score(&r)
	assert.Equal(t, 100.0, got.Total)

	neg := types.VulnerabilityRecord{Identifier: "CVE-2025-9998", MediaWeight: -10}
	assert.Equal(t, 0.0, scorer.Score(&neg).Total)
}

func TestScoreRoundsToPrecision(t *testing.T) {
	scorer := NewScorer(policy.Default())
	r := types.VulnerabilityRecord{
		Identifier:  "CVE-2025-1000",
		MediaWeight: 1.234,
	}
	got := scorer.Score(&r)
	assert.Equal(t, 6.2, got.Total)
	assert.True(t, math.Abs(got.Media-6.17) < 1e-9)
}

func TestPreScoreIgnoresExploitCode(t *testing.T) {
	scorer := NewScorer(policy.Default())
	r := types.VulnerabilityRecord{
		Identifier:    "CVE-2025-2000",
		ExploitSignal: &types.ExploitSignal{RepoCount: 3, StarSum: 40},
	}
	assert.Equal(t, 0.0, scorer.PreScore(&r))
	assert.Equal(t, 5.0, scorer.Score(&r).Total)
	assert.NotNil(t, r.ExploitSignal, "pre-scoring must not mutate the record")
}

func TestBandForScore(t *testing.T) {
	assert.Equal(t, types.SeverityCritical, BandForScore(9.8))
	assert.Equal(t, types.SeverityCritical, BandForScore(9.0))
	assert.Equal(t, types.SeverityHigh, BandForScore(7.5))
	assert.Equal(t, types.SeverityMedium, BandForScore(4.0))
	assert.Equal(t, types.SeverityLow, BandForScore(0.1))
	assert.Equal(t, "", BandForScore(0))
}
