// ABOUTME: Aggregation engine that orchestrates connectors, correlation, enrichment, and caching.
// ABOUTME: Runs one cycle per cache miss or forced refresh, shared across concurrent callers.

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/cache"
	"github.com/jfeddern/ThreatPulse/internal/classify"
	"github.com/jfeddern/ThreatPulse/internal/correlate"
	"github.com/jfeddern/ThreatPulse/internal/enrich"
	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/scoring"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrAllSourcesFailed is returned when every primary connector failed and no
// previous result is available
var ErrAllSourcesFailed = errors.New("all sources failed")

// Connector interface abstracts one upstream feed (catalog, database, news, social)
type Connector interface {
	Name() string
	Kind() types.SourceKind
	Timeout() time.Duration
	Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error)
}

// Config holds configuration for the aggregation service
type Config struct {
	Mode                 string // live, local
	Port                 int
	SourcesFile          string
	FixtureFile          string
	NVDAPIKey            string
	GitHubToken          string
	RefreshInterval      time.Duration // 0 disables scheduled warm-up
	MockMode             bool          // Enable sample connectors for local testing
	MockSeed             int64
	MaxConcurrentFetches int
	KEVWindowDays        int
	NVDWindowDays        int
	GitHubHourlyBudget   int
	Policy               policy.Table
}

// Engine orchestrates one aggregation cycle and caches its result
type Engine struct {
	connectors []Connector
	enricher   *enrich.Enricher
	correlator *correlate.Correlator
	scorer     *scoring.Scorer
	classifier *classify.Classifier
	cache      *cache.ResultCache
	clock      cache.Clock
	config     *Config
	logger     *logrus.Logger

	group singleflight.Group
	newID func() string

	// Outcome of the most recent cycle, successful or not
	mutex         sync.RWMutex
	lastCycleTime time.Time
	lastCycleErr  error
}

// Option customises an Engine
type Option func(*Engine)

// WithClock injects the clock used for ages and cache expiry
func WithClock(clock cache.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithIDGenerator injects the cycle id generator
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// NewEngine creates a new aggregation engine
func NewEngine(connectors []Connector, enricher *enrich.Enricher, config *Config, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		connectors: connectors,
		enricher:   enricher,
		correlator: correlate.NewCorrelator(config.Policy, logger),
		scorer:     scoring.NewScorer(config.Policy),
		classifier: classify.NewClassifier(config.Policy),
		config:     config,
		logger:     logger,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = cache.NewResultCache(config.Policy.CacheTTL, e.clock, logger)
	return e
}

// Aggregate returns the current ranked result. A fresh cached result is
// served unless refresh is set; otherwise a cycle runs, shared with any
// concurrent caller. When every source fails, the previous result is served
// marked stale, or ErrAllSourcesFailed is returned if there is none.
func (e *Engine) Aggregate(ctx context.Context, refresh bool) (*types.AggregateResponse, error) {
	if !refresh {
		if entry, fresh := e.cache.Get(); fresh {
			return e.annotate(entry, true, false), nil
		}
	}

	// The shared cycle must not die with whichever request started it
	cycleCtx := context.WithoutCancel(ctx)
	ch := e.group.DoChan("cycle", func() (interface{}, error) {
		// A cycle may have finished between the check above and here
		if !refresh {
			if entry, fresh := e.cache.Get(); fresh {
				return e.annotate(entry, true, false), nil
			}
		}
		return e.refresh(cycleCtx)
	})

	// Callers stop waiting when their own context ends; the cycle carries on
	select {
	case <-ctx.Done():
		e.logger.WithError(ctx.Err()).Debug("Caller left before the aggregation cycle finished")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			e.logger.WithField("refresh", refresh).Debug("Joined in-flight aggregation cycle")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.AggregateResponse), nil
	}
}

// Snapshot returns the last successful result without running a cycle
func (e *Engine) Snapshot() (*types.AggregateResult, time.Time) {
	entry, _ := e.cache.Get()
	if entry == nil {
		return nil, time.Time{}
	}
	return entry.Payload, entry.CreatedAt
}

// CacheStats reports the cached entries and how many of them have expired
func (e *Engine) CacheStats() (total int, expired int) {
	return e.cache.Stats()
}

// LastCycle reports when the most recent cycle finished and its error, if any
func (e *Engine) LastCycle() (time.Time, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.lastCycleTime, e.lastCycleErr
}

func (e *Engine) refresh(ctx context.Context) (*types.AggregateResponse, error) {
	result, err := e.runCycle(ctx)

	e.mutex.Lock()
	e.lastCycleTime = e.clock()
	e.lastCycleErr = err
	e.mutex.Unlock()

	if err != nil {
		if entry, _ := e.cache.Get(); entry != nil {
			e.logger.WithError(err).WithField("cycle_id", entry.Payload.CycleID).Warn("Aggregation failed, serving stale result")
			return e.annotate(entry, true, true), nil
		}
		return nil, err
	}

	entry := e.cache.Set(result)
	return e.annotate(entry, false, false), nil
}

func (e *Engine) annotate(entry *cache.CacheEntry, cached, stale bool) *types.AggregateResponse {
	resp := &types.AggregateResponse{
		AggregateResult: entry.Payload,
		Cached:          cached,
		Stale:           stale,
	}
	if cached {
		now := e.clock()
		age := int64(entry.Age(now) / time.Second)
		next := int64(entry.ExpiresAt().Sub(now) / time.Second)
		if next < 0 {
			next = 0
		}
		resp.CacheAgeSeconds = &age
		resp.NextRefreshSeconds = &next
	}
	return resp
}

func (e *Engine) runCycle(ctx context.Context) (*types.AggregateResult, error) {
	cycleID := e.newID()
	logger := e.logger.WithFields(logrus.Fields{
		"operation": "aggregate",
		"cycle_id":  cycleID,
	})
	started := e.clock()
	wallStart := time.Now()

	logger.WithField("connectors", len(e.connectors)).Info("Starting aggregation cycle")

	responses := e.fetchAll(ctx)
	if failed := failedSources(responses); len(failed) == len(responses) {
		if len(responses) == 0 {
			return nil, fmt.Errorf("%w: no connectors configured", ErrAllSourcesFailed)
		}
		return nil, fmt.Errorf("%w: %s", ErrAllSourcesFailed, strings.Join(failed, "; "))
	}

	records := e.correlator.Correlate(responses)
	for i := range records {
		records[i].AgeDays = AgeDays(records[i].PublishedAt, started)
	}

	if e.enricher != nil {
		responses = append(responses, e.enricher.Enrich(ctx, records)...)
	}

	result := e.assemble(cycleID, records, responses, started)
	result.Duration = time.Since(wallStart)

	logger.WithFields(logrus.Fields{
		"duration":   result.Duration,
		"correlated": result.Stats.Correlated,
		"returned":   result.Stats.Total,
	}).Info("Aggregation cycle completed")

	return result, nil
}

// fetchAll runs every connector concurrently. A failing or slow connector
// never cancels its siblings.
func (e *Engine) fetchAll(ctx context.Context) []types.SourceResponse {
	responses := make([]types.SourceResponse, len(e.connectors))

	limit := e.config.MaxConcurrentFetches
	if limit <= 0 {
		limit = len(e.connectors)
	}
	// Use semaphore to limit concurrent upstream calls
	semaphore := make(chan struct{}, max(limit, 1))
	var wg sync.WaitGroup

	for i, connector := range e.connectors {
		wg.Add(1)
		go func(slot int, c Connector) {
			defer wg.Done()

			semaphore <- struct{}{}        // Acquire semaphore
			defer func() { <-semaphore }() // Release semaphore

			responses[slot] = e.runConnector(ctx, c)
		}(i, connector)
	}

	wg.Wait()
	return responses
}

func (e *Engine) runConnector(ctx context.Context, c Connector) (resp types.SourceResponse) {
	logger := e.logger.WithField("source", c.Name())
	start := time.Now()
	resp = types.SourceResponse{
		SourceName: c.Name(),
		Kind:       c.Kind(),
		Status:     types.StatusOK,
	}

	defer func() {
		if r := recover(); r != nil {
			resp.Status = types.StatusFailed
			resp.Err = fmt.Errorf("connector %s panicked: %v", c.Name(), r)
			resp.Duration = time.Since(start)
			logger.WithField("panic", r).Error("Connector panicked")
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	records, err := c.Fetch(fetchCtx)
	resp.Records = records
	resp.Duration = time.Since(start)

	if err != nil {
		resp.Err = fmt.Errorf("%s: %w", c.Name(), err)
		resp.Status = types.StatusFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			resp.Status = types.StatusTimeout
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"status":          resp.Status,
			"partial_records": len(records),
			"duration":        resp.Duration,
		}).Warn("Connector fetch failed")
		return resp
	}

	logger.WithFields(logrus.Fields{
		"records":  len(records),
		"duration": resp.Duration,
	}).Debug("Connector fetch completed")
	return resp
}

func failedSources(responses []types.SourceResponse) []string {
	var failed []string
	for _, r := range responses {
		if r.Status != types.StatusOK {
			failed = append(failed, fmt.Sprintf("%s %s: %v", r.SourceName, r.Status, r.Err))
		}
	}
	sort.Strings(failed)
	return failed
}

// AgeDays returns whole days elapsed since publication, or nil when the
// publication date is unknown. Future dates count as zero.
func AgeDays(published *time.Time, now time.Time) *int {
	if published == nil || published.IsZero() {
		return nil
	}
	days := int(now.Sub(*published).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}
