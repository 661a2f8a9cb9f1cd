// ABOUTME: Prometheus metrics exposition for aggregated threat data.
// ABOUTME: Defines metrics structure and provides HTTP handler for /metrics endpoint.

package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SnapshotProvider exposes the last assembled result without triggering a cycle
type SnapshotProvider interface {
	Snapshot() (*types.AggregateResult, time.Time)
	LastCycle() (time.Time, error)
	CacheStats() (total int, expired int)
}

type MetricsHandler struct {
	provider SnapshotProvider
	logger   *logrus.Logger

	// Scrapes reset and refill the shared vectors
	mutex sync.Mutex

	// Prometheus metrics
	recordsByTier  *prometheus.GaugeVec
	sourceHealth   *prometheus.GaugeVec
	sourceRecords  *prometheus.GaugeVec
	sourceDuration *prometheus.GaugeVec
	cycleInfo      *prometheus.GaugeVec
	cacheEntries   *prometheus.GaugeVec

	// Per-record metrics
	attentionScore     *prometheus.GaugeVec
	exploitProbability *prometheus.GaugeVec
	knownExploited     *prometheus.GaugeVec
	mediaMentions      *prometheus.GaugeVec
}

func NewMetricsHandler(provider SnapshotProvider, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		provider: provider,
		logger:   logger,

		recordsByTier: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_records_by_tier",
				Help: "Number of returned records per classification tier",
			},
			[]string{"tier"},
		),

		sourceHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_source_up",
				Help: "Outcome of the last call to each source (1=OK, 0=FAILED or TIMEOUT)",
			},
			[]string{"source", "kind", "status"},
		),

		sourceRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_source_records",
				Help: "Records contributed by each source in the last cycle",
			},
			[]string{"source", "kind"},
		),

		sourceDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_source_duration_seconds",
				Help: "Wall time spent on each source in the last cycle",
			},
			[]string{"source", "kind"},
		),

		cycleInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_cycle_info",
				Help: "Information about the aggregation cycles",
			},
			[]string{"info_type"},
		),

		cacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_cache_entries",
				Help: "Cached aggregate results by freshness",
			},
			[]string{"state"},
		),

		attentionScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_attention_score",
				Help: "Attention score of each returned record",
			},
			[]string{"identifier", "tier", "severity"},
		),

		exploitProbability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_exploit_probability",
				Help: "Predicted exploitation probability of each returned record",
			},
			[]string{"identifier"},
		),

		knownExploited: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_known_exploited",
				Help: "Known-exploited catalog membership (1=listed)",
			},
			[]string{"identifier", "vendor", "product", "ransomware"},
		),

		mediaMentions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatpulse_media_mentions",
				Help: "News items that mentioned each returned record",
			},
			[]string{"identifier"},
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Create a new registry for this request to avoid conflicts
	registry := prometheus.NewRegistry()

	// Register our metrics
	registry.MustRegister(m.recordsByTier)
	registry.MustRegister(m.sourceHealth)
	registry.MustRegister(m.sourceRecords)
	registry.MustRegister(m.sourceDuration)
	registry.MustRegister(m.cycleInfo)
	registry.MustRegister(m.cacheEntries)
	registry.MustRegister(m.attentionScore)
	registry.MustRegister(m.exploitProbability)
	registry.MustRegister(m.knownExploited)
	registry.MustRegister(m.mediaMentions)

	// Reset all metrics to avoid stale data
	m.recordsByTier.Reset()
	m.sourceHealth.Reset()
	m.sourceRecords.Reset()
	m.sourceDuration.Reset()
	m.cycleInfo.Reset()
	m.cacheEntries.Reset()
	m.attentionScore.Reset()
	m.exploitProbability.Reset()
	m.knownExploited.Reset()
	m.mediaMentions.Reset()

	lastCycle, lastErr := m.provider.LastCycle()
	if !lastCycle.IsZero() {
		m.cycleInfo.WithLabelValues("last_cycle_timestamp").Set(float64(lastCycle.Unix()))
		success := float64(1)
		if lastErr != nil {
			success = 0
		}
		m.cycleInfo.WithLabelValues("last_cycle_success").Set(success)
	}

	total, expired := m.provider.CacheStats()
	m.cacheEntries.WithLabelValues("fresh").Set(float64(total - expired))
	m.cacheEntries.WithLabelValues("expired").Set(float64(expired))

	result, generatedAt := m.provider.Snapshot()
	if result != nil {
		m.populate(result, generatedAt)
	} else {
		m.logger.Debug("No aggregate result available for metrics yet")
	}

	// Serve metrics
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

func (m *MetricsHandler) populate(result *types.AggregateResult, generatedAt time.Time) {
	m.cycleInfo.WithLabelValues("last_success_timestamp").Set(float64(generatedAt.Unix()))
	m.cycleInfo.WithLabelValues("records_returned").Set(float64(result.Stats.Total))
	m.cycleInfo.WithLabelValues("records_correlated").Set(float64(result.Stats.Correlated))
	m.cycleInfo.WithLabelValues("cycle_duration_seconds").Set(result.Duration.Seconds())

	for tier, count := range result.Stats.ByTier {
		m.recordsByTier.WithLabelValues(string(tier)).Set(float64(count))
	}

	for source, detail := range result.SourceDetails {
		up := float64(0)
		if detail.Status == types.StatusOK {
			up = 1
		}
		m.sourceHealth.WithLabelValues(source, detail.Kind, string(detail.Status)).Set(up)
		m.sourceRecords.WithLabelValues(source, detail.Kind).Set(float64(detail.Records))
		m.sourceDuration.WithLabelValues(source, detail.Kind).Set(float64(detail.DurationMS) / 1000)
	}

	for _, rec := range result.Records {
		identifier := sanitizeLabelValue(rec.Identifier)
		m.attentionScore.WithLabelValues(
			identifier, string(rec.Classification.Tier), sanitizeLabelValue(rec.SeverityBand),
		).Set(rec.AttentionScore)

		if rec.ExploitProbability != nil {
			m.exploitProbability.WithLabelValues(identifier).Set(*rec.ExploitProbability)
		}

		if rec.KnownExploited {
			vendor, product, ransomware := "unknown", "unknown", "false"
			if rec.KEV != nil {
				vendor = sanitizeLabelValue(rec.KEV.Vendor)
				product = sanitizeLabelValue(rec.KEV.Product)
				if rec.KEV.RansomwareLinked {
					ransomware = "true"
				}
			}
			m.knownExploited.WithLabelValues(identifier, vendor, product, ransomware).Set(1)
		}

		if len(rec.MediaMentions) > 0 {
			m.mediaMentions.WithLabelValues(identifier).Set(float64(len(rec.MediaMentions)))
		}
	}
}

// sanitizeLabelValue cleans strings for use as Prometheus labels
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "unknown"
	}

	// Remove newlines and carriage returns
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")

	// Limit length to prevent excessive label sizes
	if len(value) > 200 {
		value = value[:200] + "..."
	}

	// Remove any leading/trailing whitespace
	return strings.TrimSpace(value)
}

// CreateMetricsHandler creates a standard HTTP handler that can be used with any router
func CreateMetricsHandler(provider SnapshotProvider, logger *logrus.Logger) http.HandlerFunc {
	metricsHandler := NewMetricsHandler(provider, logger)
	return metricsHandler.ServeHTTP
}
