// ABOUTME: Post-correlation enrichment with exploit probability and public PoC evidence.
// ABOUTME: Batches probability lookups and paces code-hosting searches under a call budget.

package enrich

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/policy"
	"github.com/jfeddern/ThreatPulse/internal/scoring"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrQuotaExhausted signals that a provider's call quota is spent.
// Enrichment stops early and keeps what it already collected.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// ProbabilitySource returns exploit probabilities for a batch of identifiers.
// Identifiers missing from the result are not an error. MaxBatch caps the
// identifiers per call; zero means no cap.
type ProbabilitySource interface {
	Name() string
	Timeout() time.Duration
	MaxBatch() int
	Probabilities(ctx context.Context, ids []string) (map[string]float64, error)
}

// ExploitSearcher looks up public proof-of-concept code for one identifier
type ExploitSearcher interface {
	Name() string
	Timeout() time.Duration
	SearchExploits(ctx context.Context, id string) (*types.ExploitSignal, error)
}

// Enricher adds secondary signals to correlated records
type Enricher struct {
	probability ProbabilitySource
	searcher    ExploitSearcher
	scorer      *scoring.Scorer
	policy      policy.Table
	logger      *logrus.Logger
}

// NewEnricher creates an enricher. Either source may be nil to skip it.
func NewEnricher(probability ProbabilitySource, searcher ExploitSearcher, p policy.Table, logger *logrus.Logger) *Enricher {
	return &Enricher{
		probability: probability,
		searcher:    searcher,
		scorer:      scoring.NewScorer(p),
		policy:      p,
		logger:      logger,
	}
}

// Enrich updates records in place and returns one response per enrichment
// source for health reporting. It never fails the cycle. The whole stage runs
// under the policy's enrichment budget; work left when it expires is skipped.
func (e *Enricher) Enrich(ctx context.Context, records []types.VulnerabilityRecord) []types.SourceResponse {
	if e.policy.EnrichmentBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.EnrichmentBudget)
		defer cancel()
	}

	var responses []types.SourceResponse
	if e.probability != nil {
		responses = append(responses, e.enrichProbabilities(ctx, records))
	}
	if e.searcher != nil {
		responses = append(responses, e.enrichExploitCode(ctx, records))
	}
	return responses
}

func (e *Enricher) enrichProbabilities(ctx context.Context, records []types.VulnerabilityRecord) types.SourceResponse {
	start := time.Now()
	resp := types.SourceResponse{
		SourceName: e.probability.Name(),
		Kind:       types.KindEnrichment,
		Status:     types.StatusOK,
	}
	logger := e.logger.WithFields(logrus.Fields{
		"component": "enricher",
		"source":    resp.SourceName,
	})

	index := make(map[string]int, len(records))
	ids := make([]string, 0, len(records))
	for i := range records {
		index[records[i].Identifier] = i
		ids = append(ids, records[i].Identifier)
	}

	chunks := Chunk(ids, batchSize(e.policy.EPSSBatchSize, e.probability.MaxBatch()))
	var failed, skipped int
	var lastErr error
	enriched := 0
	for n, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			skipped = len(chunks) - n
			lastErr = err
			logger.WithField("skipped_batches", skipped).Warn("Enrichment budget spent, skipping remaining batches")
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, e.probability.Timeout())
		scores, err := e.probability.Probabilities(callCtx, chunk)
		cancel()
		if err != nil {
			failed++
			lastErr = err
			logger.WithError(err).WithField("batch_size", len(chunk)).Warn("Exploit probability batch failed")
			continue
		}
		for id, p := range scores {
			i, ok := index[id]
			if !ok {
				continue
			}
			v := scoring.ClampProbability(p)
			records[i].ExploitProbability = &v
			enriched++
		}
	}

	resp.Duration = time.Since(start)
	if lastErr != nil {
		resp.Err = lastErr
		if failed+skipped == len(chunks) {
			resp.Status = statusFor(lastErr)
		}
		if failed+skipped < len(chunks) || skipped > 0 {
			resp.Partial = true
		}
	}

	logger.WithFields(logrus.Fields{
		"batches":         len(chunks),
		"failed_batches":  failed,
		"skipped_batches": skipped,
		"enriched":       enriched,
		"duration":       resp.Duration,
	}).Info("Exploit probability enrichment completed")
	return resp
}

func (e *Enricher) enrichExploitCode(ctx context.Context, records []types.VulnerabilityRecord) types.SourceResponse {
	start := time.Now()
	resp := types.SourceResponse{
		SourceName: e.searcher.Name(),
		Kind:       types.KindEnrichment,
		Status:     types.StatusOK,
	}
	logger := e.logger.WithFields(logrus.Fields{
		"component": "enricher",
		"source":    resp.SourceName,
	})

	candidates := e.codeSearchCandidates(records)
	limiter := rate.NewLimiter(rate.Every(e.policy.CodeSearchInterval), 1)

	attempted, failed, found := 0, 0, 0
	var lastErr error
	for _, i := range candidates {
		if err := ctx.Err(); err != nil {
			lastErr = err
			resp.Partial = true
			logger.WithField("pending", len(candidates)-attempted).Warn("Enrichment budget spent, skipping remaining searches")
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			lastErr = err
			resp.Partial = true
			break
		}

		attempted++
		callCtx, cancel := context.WithTimeout(ctx, e.searcher.Timeout())
		sig, err := e.searcher.SearchExploits(callCtx, records[i].Identifier)
		cancel()

		if errors.Is(err, ErrQuotaExhausted) {
			lastErr = err
			resp.Partial = true
			logger.WithFields(logrus.Fields{
				"completed": attempted - 1,
				"pending":   len(candidates) - attempted + 1,
			}).Warn("Code search quota exhausted, stopping early")
			break
		}
		if err != nil {
			failed++
			lastErr = err
			logger.WithError(err).WithField("identifier", records[i].Identifier).Debug("Code search failed")
			continue
		}
		if sig != nil {
			records[i].ExploitSignal = sig
			if sig.RepoCount > 0 {
				found++
			}
		}
	}

	resp.Duration = time.Since(start)
	if lastErr != nil {
		resp.Err = lastErr
		if attempted > 0 && failed == attempted {
			resp.Status = statusFor(lastErr)
		}
	}

	logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"attempted":  attempted,
		"failed":     failed,
		"with_poc":   found,
		"partial":    resp.Partial,
		"duration":   resp.Duration,
	}).Info("Code search enrichment completed")
	return resp
}

// codeSearchCandidates ranks records by provisional score and keeps the top
// MaxCodeSearches indices.
func (e *Enricher) codeSearchCandidates(records []types.VulnerabilityRecord) []int {
	type ranked struct {
		index int
		score float64
	}
	all := make([]ranked, len(records))
	for i := range records {
		all[i] = ranked{index: i, score: e.scorer.PreScore(&records[i])}
	}
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].score != all[b].score {
			return all[a].score > all[b].score
		}
		return records[all[a].index].Identifier < records[all[b].index].Identifier
	})

	limit := e.policy.MaxCodeSearches
	if limit > len(all) {
		limit = len(all)
	}
	out := make([]int, 0, limit)
	for _, r := range all[:limit] {
		out = append(out, r.index)
	}
	return out
}

// Chunk splits ids into batches of at most size elements
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// batchSize honors the provider cap when the policy asks for more
func batchSize(configured, providerMax int) int {
	if providerMax > 0 && (configured <= 0 || configured > providerMax) {
		return providerMax
	}
	return configured
}

func statusFor(err error) types.SourceStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.StatusTimeout
	}
	return types.StatusFailed
}
