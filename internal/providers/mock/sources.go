// ABOUTME: Mock connectors for local testing and demos.
// ABOUTME: Provides realistic, seed-deterministic feed data without network access.

package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/scoring"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// sampleVuln is one entry of the built-in sample catalog
type sampleVuln struct {
	id          string
	description string
	vendor      string
	product     string
	score       float64
	ageDays     int
	kev         bool
	ransomware  bool
	epss        float64
	pocRepos    int
}

var sampleCatalog = []sampleVuln{
	{"CVE-2025-55182", "Unsafe deserialization in React Server Components allows unauthenticated remote code execution", "Meta", "React Server Components", 10.0, 1, true, false, 0.91, 6},
	{"CVE-2025-66478", "Next.js App Router remote code execution via crafted Flight payload", "Vercel", "Next.js", 10.0, 1, false, false, 0.62, 3},
	{"CVE-2025-20352", "Stack overflow in Cisco IOS SNMP subsystem leads to remote code execution", "Cisco", "IOS and IOS XE", 7.7, 9, true, false, 0.35, 1},
	{"CVE-2025-59287", "Windows Server Update Service deserialization of untrusted data", "Microsoft", "WSUS", 9.8, 6, true, true, 0.88, 4},
	{"CVE-2025-61882", "Oracle E-Business Suite BI Publisher integration remote code execution", "Oracle", "E-Business Suite", 9.8, 12, true, true, 0.94, 2},
	{"CVE-2025-10035", "Deserialization flaw in Fortra GoAnywhere MFT License Servlet", "Fortra", "GoAnywhere MFT", 10.0, 20, true, true, 0.71, 1},
	{"CVE-2025-53770", "SharePoint Server deserialization enables unauthenticated remote code execution", "Microsoft", "SharePoint", 9.8, 25, true, false, 0.92, 5},
	{"CVE-2025-4664", "Insufficient policy enforcement in Chrome Loader leaks cross-origin data", "Google", "Chromium", 4.3, 4, false, false, 0.02, 0},
	{"CVE-2025-32433", "Erlang/OTP SSH server allows unauthenticated remote code execution", "Erlang", "OTP", 10.0, 11, false, false, 0.55, 7},
	{"CVE-2025-29927", "Next.js middleware authorization bypass via x-middleware-subrequest header", "Vercel", "Next.js", 9.1, 13, false, false, 0.47, 3},
	{"CVE-2025-24813", "Apache Tomcat partial PUT path equivalence leads to remote code execution", "Apache", "Tomcat", 9.8, 8, false, false, 0.18, 2},
	{"CVE-2025-1974", "Ingress-NGINX admission controller configuration injection", "Kubernetes", "ingress-nginx", 9.8, 5, false, false, 0.09, 1},
	{"CVE-2025-30065", "Apache Parquet Java schema parsing allows arbitrary code execution", "Apache", "Parquet", 10.0, 3, false, false, 0.01, 0},
	{"CVE-2025-22457", "Ivanti Connect Secure stack-based buffer overflow", "Ivanti", "Connect Secure", 9.0, 2, true, false, 0.86, 1},
	{"CVE-2025-31324", "SAP NetWeaver Visual Composer unrestricted file upload", "SAP", "NetWeaver", 5.3, 10, false, false, 0.04, 0},
}

var sampleOutlets = []string{"mock-bleepingcomputer", "mock-thehackernews", "mock-securityweek"}

var sampleCommunities = []string{"netsec", "cybersecurity", "sysadmin"}

// MockSource implements the engine connector with generated data
type MockSource struct {
	name   string
	kind   types.SourceKind
	seed   int64
	now    func() time.Time
	logger *logrus.Logger
}

// NewMockSources creates one catalog, one database, one social and several
// news connectors sharing seed. Output for a given seed and clock never changes.
func NewMockSources(seed int64, now func() time.Time, logger *logrus.Logger) []*MockSource {
	if now == nil {
		now = time.Now
	}
	sources := []*MockSource{
		{name: "mock-kev", kind: types.KindCatalog},
		{name: "mock-nvd", kind: types.KindDatabase},
		{name: "mock-reddit", kind: types.KindText},
	}
	for _, outlet := range sampleOutlets {
		sources = append(sources, &MockSource{name: outlet, kind: types.KindText})
	}
	for _, s := range sources {
		s.seed = seed
		s.now = now
		s.logger = logger
	}
	return sources
}

// Name returns the name of this connector
func (m *MockSource) Name() string {
	return m.name
}

// Kind returns the connector kind
func (m *MockSource) Kind() types.SourceKind {
	return m.kind
}

// Timeout returns the per-fetch timeout
func (m *MockSource) Timeout() time.Duration {
	return 2 * time.Second
}

// Fetch returns generated records for this connector's kind
func (m *MockSource) Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(m.seed ^ int64(nameHash(m.name))))
	now := m.now().UTC()

	var records []types.VulnerabilityRecord
	switch {
	case m.kind == types.KindCatalog:
		records = m.catalogRecords(now)
	case m.kind == types.KindDatabase:
		records = m.databaseRecords(now)
	case m.name == "mock-reddit":
		records = m.socialRecords(rng)
	default:
		records = m.newsRecords(rng, now)
	}

	m.logger.WithFields(logrus.Fields{
		"source":  m.name,
		"records": len(records),
	}).Debug("Generated mock records")
	return records, nil
}

func (m *MockSource) catalogRecords(now time.Time) []types.VulnerabilityRecord {
	var records []types.VulnerabilityRecord
	for _, v := range sampleCatalog {
		if !v.kev {
			continue
		}
		added := now.AddDate(0, 0, -v.ageDays/2).Truncate(24 * time.Hour)
		due := added.AddDate(0, 0, 21)
		records = append(records, types.VulnerabilityRecord{
			Identifier:     v.id,
			Description:    v.description,
			KnownExploited: true,
			KEV: &types.KEVMetadata{
				Vendor:           v.vendor,
				Product:          v.product,
				Name:             fmt.Sprintf("%s %s Vulnerability", v.vendor, v.product),
				DateAdded:        &added,
				DueDate:          &due,
				RansomwareLinked: v.ransomware,
				RequiredAction:   "Apply mitigations per vendor instructions or discontinue use of the product if mitigations are unavailable.",
			},
		})
	}
	return records
}

func (m *MockSource) databaseRecords(now time.Time) []types.VulnerabilityRecord {
	records := make([]types.VulnerabilityRecord, 0, len(sampleCatalog))
	for _, v := range sampleCatalog {
		score := v.score
		published := now.Add(-time.Duration(v.ageDays)*24*time.Hour - 3*time.Hour)
		records = append(records, types.VulnerabilityRecord{
			Identifier:   v.id,
			Description:  v.description,
			SeverityBand: scoring.BandForScore(score),
			BaseScore:    &score,
			PublishedAt:  &published,
		})
	}
	return records
}

func (m *MockSource) newsRecords(rng *rand.Rand, now time.Time) []types.VulnerabilityRecord {
	var records []types.VulnerabilityRecord
	for i, v := range sampleCatalog {
		// Exploited and high-probability entries get more coverage
		chance := 0.2 + v.epss*0.6
		if rng.Float64() > chance {
			continue
		}
		date := now.Add(-time.Duration(rng.Intn(48)) * time.Hour)
		records = append(records, types.VulnerabilityRecord{
			Identifier: v.id,
			MediaMentions: []types.MediaMention{{
				SourceName: m.name,
				Title:      fmt.Sprintf("%s: %s", v.id, v.description),
				URL:        fmt.Sprintf("https://%s.example/articles/%d", m.name, 1000+i),
				Date:       &date,
			}},
			MediaWeight: 1,
		})
	}
	return records
}

func (m *MockSource) socialRecords(rng *rand.Rand) []types.VulnerabilityRecord {
	var records []types.VulnerabilityRecord
	for _, v := range sampleCatalog {
		posts := rng.Intn(6)
		if posts == 0 {
			continue
		}
		sig := &types.SocialSignal{PostCount: posts}
		for p := 0; p < posts; p++ {
			score := rng.Intn(int(50 + v.epss*400))
			sig.TotalUpvotes += score
			if score > sig.TopPostScore || sig.TopCommunity == "" {
				sig.TopPostScore = score
				sig.TopCommunity = sampleCommunities[rng.Intn(len(sampleCommunities))]
			}
		}
		records = append(records, types.VulnerabilityRecord{Identifier: v.id, SocialSignal: sig})
	}
	return records
}

// MockProbabilitySource implements enrich.ProbabilitySource from the sample catalog
type MockProbabilitySource struct {
	logger *logrus.Logger
}

// NewMockProbabilitySource creates a new mock exploit-probability source
func NewMockProbabilitySource(logger *logrus.Logger) *MockProbabilitySource {
	return &MockProbabilitySource{logger: logger}
}

// Name returns the name of this source
func (m *MockProbabilitySource) Name() string {
	return "mock-epss"
}

// Timeout returns the per-batch timeout
func (m *MockProbabilitySource) Timeout() time.Duration {
	return time.Second
}

func (m *MockProbabilitySource) MaxBatch() int {
	return 0
}

// Probabilities returns catalog probabilities for known identifiers
func (m *MockProbabilitySource) Probabilities(ctx context.Context, ids []string) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		if v, ok := lookup(id); ok {
			out[id] = v.epss
		}
	}
	return out, nil
}

// MockExploitSearcher implements enrich.ExploitSearcher from the sample catalog
type MockExploitSearcher struct {
	logger *logrus.Logger
}

// NewMockExploitSearcher creates a new mock code search source
func NewMockExploitSearcher(logger *logrus.Logger) *MockExploitSearcher {
	return &MockExploitSearcher{logger: logger}
}

// Name returns the name of this source
func (m *MockExploitSearcher) Name() string {
	return "mock-github"
}

// Timeout returns the per-call timeout
func (m *MockExploitSearcher) Timeout() time.Duration {
	return time.Second
}

// SearchExploits returns generated repositories for known identifiers
func (m *MockExploitSearcher) SearchExploits(ctx context.Context, id string) (*types.ExploitSignal, error) {
	sig := &types.ExploitSignal{RepoList: []types.ExploitRepo{}}
	v, ok := lookup(id)
	if !ok {
		return sig, nil
	}
	for i := 0; i < v.pocRepos; i++ {
		stars := (v.pocRepos - i) * 17
		sig.RepoCount++
		sig.StarSum += stars
		sig.RepoList = append(sig.RepoList, types.ExploitRepo{
			Name:  fmt.Sprintf("researcher%d/%s-poc", i+1, v.id),
			URL:   fmt.Sprintf("https://github.com/researcher%d/%s-poc", i+1, v.id),
			Stars: stars,
		})
	}
	return sig, nil
}

func lookup(id string) (sampleVuln, bool) {
	for _, v := range sampleCatalog {
		if v.id == id {
			return v, true
		}
	}
	return sampleVuln{}, false
}

func nameHash(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}
