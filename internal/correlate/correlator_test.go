// ABOUTME: Unit tests for record correlation across sources.
// ABOUTME: Tests precedence, arrival-order independence, evidence floor, and auxiliary merges.

package correlate

import (
	"testing"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrFloat(v float64) *float64 { return &v }

func newTestCorrelator() *Correlator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewCorrelator(policy.Default(), logger)
}

func fixtureResponses() (kev, nvd, news, social types.SourceResponse) {
	published := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	added := time.Date(2025, 12, 4, 0, 0, 0, 0, time.UTC)

	kev = types.SourceResponse{
		SourceName: "cisa-kev",
		Kind:       types.KindCatalog,
		Status:     types.StatusOK,
		Records: []types.VulnerabilityRecord{{
			Identifier:     "CVE-2025-55182",
			Description:    "React Server Components remote code execution vulnerability",
			KnownExploited: true,
			KEV:            &types.KEVMetadata{Vendor: "Meta", Product: "React", DateAdded: &added},
		}},
	}
	nvd = types.SourceResponse{
		SourceName: "nvd-critical",
		Kind:       types.KindDatabase,
		Status:     types.StatusOK,
		Records: []types.VulnerabilityRecord{{
			Identifier:   "CVE-2025-55182",
			Description:  "A pre-authentication remote code execution vulnerability exists in React Server Components.",
			SeverityBand: types.SeverityCritical,
			BaseScore:    ptrFloat(10.0),
			Weakness:     []string{"CWE-502"},
			PublishedAt:  &published,
		}},
	}
	news = types.SourceResponse{
		SourceName: "bleepingcomputer",
		Kind:       types.KindText,
		Status:     types.StatusOK,
		Records: []types.VulnerabilityRecord{
			{
				Identifier:    "cve-2025-55182",
				Description:   "headline text that must never win",
				BaseScore:     ptrFloat(3.1),
				MediaMentions: []types.MediaMention{{SourceName: "bleepingcomputer", Title: "React2Shell", URL: "https://bc.example/1"}},
				MediaWeight:   3,
			},
			{
				Identifier:    "CVE-2025-12345",
				MediaMentions: []types.MediaMention{{SourceName: "bleepingcomputer", Title: "Other", URL: "https://bc.example/2"}},
				MediaWeight:   3,
			},
		},
	}
	social = types.SourceResponse{
		SourceName: "reddit-netsec",
		Kind:       types.KindText,
		Status:     types.StatusOK,
		Records: []types.VulnerabilityRecord{
			{
				Identifier:   "CVE-2025-55182",
				SocialSignal: &types.SocialSignal{PostCount: 2, TotalUpvotes: 340, TopCommunity: "netsec", TopPostScore: 300},
			},
			{
				// Scenario C: a single weak post
				Identifier:   "CVE-2025-77777",
				SocialSignal: &types.SocialSignal{PostCount: 1, TotalUpvotes: 5, TopCommunity: "netsec", TopPostScore: 5},
			},
			{
				Identifier:   "CVE-2025-88888",
				SocialSignal: &types.SocialSignal{PostCount: 1, TotalUpvotes: 50, TopCommunity: "netsec", TopPostScore: 50},
			},
		},
	}
	return kev, nvd, news, social
}

func byID(records []types.VulnerabilityRecord) map[string]types.VulnerabilityRecord {
	out := make(map[string]types.VulnerabilityRecord, len(records))
	for _, r := range records {
		out[r.Identifier] = r
	}
	return out
}

func TestCorrelateStructuredFieldsWin(t *testing.T) {
	c := newTestCorrelator()
	kev, nvd, news, social := fixtureResponses()

	records := byID(c.Correlate([]types.SourceResponse{news, social, kev, nvd}))
	r, ok := records["CVE-2025-55182"]
	require.True(t, ok)

	assert.Equal(t, nvd.Records[0].Description, r.Description)
	require.NotNil(t, r.BaseScore)
	assert.Equal(t, 10.0, *r.BaseScore)
	assert.Equal(t, types.SeverityCritical, r.SeverityBand)
	assert.Equal(t, []string{"CWE-502"}, r.Weakness)
	assert.True(t, r.KnownExploited)
	require.NotNil(t, r.KEV)
	assert.Equal(t, "Meta", r.KEV.Vendor)
	assert.Len(t, r.MediaMentions, 1)
	assert.Equal(t, 3.0, r.MediaWeight)
	require.NotNil(t, r.SocialSignal)
	assert.Equal(t, 340, r.SocialSignal.TotalUpvotes)
	assert.ElementsMatch(t, []string{"cisa-kev", "nvd-critical", "bleepingcomputer", "reddit-netsec"}, r.Sources)
}

func TestCorrelateArrivalOrderIndependent(t *testing.T) {
	c := newTestCorrelator()
	kev, nvd, news, social := fixtureResponses()

	orders := [][]types.SourceResponse{
		{kev, nvd, news, social},
		{news, social, kev, nvd},
		{social, nvd, news, kev},
		{nvd, kev, social, news},
	}

	var baseline map[string]types.VulnerabilityRecord
	for i, order := range orders {
		got := byID(c.Correlate(order))
		if i == 0 {
			baseline = got
			continue
		}
		require.Equal(t, len(baseline), len(got))
		for id, want := range baseline {
			assert.Equal(t, want.Description, got[id].Description, "order %d id %s", i, id)
			assert.Equal(t, want.BaseScore, got[id].BaseScore, "order %d id %s", i, id)
			assert.Equal(t, want.SeverityBand, got[id].SeverityBand, "order %d id %s", i, id)
			assert.Equal(t, want.PublishedAt, got[id].PublishedAt, "order %d id %s", i, id)
		}
	}
}

func TestCorrelateEvidenceFloor(t *testing.T) {
	c := newTestCorrelator()
	_, _, _, social := fixtureResponses()

	records := byID(c.Correlate([]types.SourceResponse{social}))

	_, weak := records["CVE-2025-77777"]
	assert.False(t, weak, "social-only record below the upvote floor must be excluded")
	_, strong := records["CVE-2025-88888"]
	assert.True(t, strong, "social-only record above the floor is admissible")
}

func TestCorrelateTextOnlyRecordKeepsTextFields(t *testing.T) {
	c := newTestCorrelator()
	_, _, news, _ := fixtureResponses()

	records := byID(c.Correlate([]types.SourceResponse{news}))
	r := records["CVE-2025-55182"]
	assert.Equal(t, "headline text that must never win", r.Description)
	require.NotNil(t, r.BaseScore)
	assert.Equal(t, 3.1, *r.BaseScore)
}

func TestCorrelateMergesSocialAcrossCommunities(t *testing.T) {
	c := newTestCorrelator()
	a := types.SourceResponse{
		SourceName: "reddit-netsec",
		Kind:       types.KindText,
		Records: []types.VulnerabilityRecord{{
			Identifier:   "CVE-2025-1111",
			SocialSignal: &types.SocialSignal{PostCount: 2, TotalUpvotes: 40, TopCommunity: "netsec", TopPostScore: 30},
		}},
	}
	b := types.SourceResponse{
		SourceName: "reddit-cybersecurity",
		Kind:       types.KindText,
		Records: []types.VulnerabilityRecord{{
			Identifier:   "CVE-2025-1111",
			SocialSignal: &types.SocialSignal{PostCount: 1, TotalUpvotes: 90, TopCommunity: "cybersecurity", TopPostScore: 90},
		}},
	}

	records := c.Correlate([]types.SourceResponse{a, b})
	require.Len(t, records, 1)
	sig := records[0].SocialSignal
	require.NotNil(t, sig)
	assert.Equal(t, 3, sig.PostCount)
	assert.Equal(t, 130, sig.TotalUpvotes)
	assert.Equal(t, "cybersecurity", sig.TopCommunity)
	assert.Equal(t, 90, sig.TopPostScore)
}

func TestCorrelateDeduplicatesMentionsAndClamps(t *testing.T) {
	c := newTestCorrelator()
	mention := types.MediaMention{SourceName: "krebs", Title: "A", URL: "https://krebs.example/a"}
	resp := types.SourceResponse{
		SourceName: "local",
		Kind:       types.KindDatabase,
		Records: []types.VulnerabilityRecord{
			{
				Identifier:         "CVE-2025-2222",
				BaseScore:          ptrFloat(14),
				ExploitProbability: ptrFloat(-0.5),
				MediaMentions:      []types.MediaMention{mention, mention},
			},
			{Identifier: "not-an-id"},
		},
	}

	records := c.Correlate([]types.SourceResponse{resp})
	require.Len(t, records, 1)
	r := records[0]
	assert.Len(t, r.MediaMentions, 1)
	assert.Equal(t, 10.0, *r.BaseScore)
	assert.Equal(t, 0.0, *r.ExploitProbability)
}

func TestCorrelateCountsRepeatedMentionWeightOnce(t *testing.T) {
	c := newTestCorrelator()
	repeated := types.VulnerabilityRecord{
		Identifier:    "CVE-2025-3333",
		MediaWeight:   1.5,
		MediaMentions: []types.MediaMention{{SourceName: "bleepingcomputer", URL: "https://news.example/a"}},
	}
	other := types.VulnerabilityRecord{
		Identifier:    "CVE-2025-3333",
		MediaWeight:   2,
		MediaMentions: []types.MediaMention{{SourceName: "securityweek", URL: "https://news.example/b"}},
	}
	resp := types.SourceResponse{
		SourceName: "feeds",
		Kind:       types.KindText,
		Status:     types.StatusOK,
		Records:    []types.VulnerabilityRecord{repeated, repeated, other},
	}

	records := c.Correlate([]types.SourceResponse{resp})
	require.Len(t, records, 1)
	assert.Len(t, records[0].MediaMentions, 2)
	assert.Equal(t, 3.5, records[0].MediaWeight)
}

func TestCorrelateIgnoresEnrichmentResponses(t *testing.T) {
	c := newTestCorrelator()
	resp := types.SourceResponse{
		SourceName: "first-epss",
		Kind:       types.KindEnrichment,
		Records:    []types.VulnerabilityRecord{{Identifier: "CVE-2025-3333", ExploitProbability: ptrFloat(0.4)}},
	}
	assert.Empty(t, c.Correlate([]types.SourceResponse{resp}))
}
