// ABOUTME: Exploit-probability connector for the FIRST EPSS API.
// ABOUTME: Looks up probabilities for a batch of identifiers in a single request.

package first

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/providers/httpclient"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public EPSS endpoint
const DefaultBaseURL = "https://api.first.org/data/v1/epss"

// MaxBatchSize is the largest identifier list accepted per request
const MaxBatchSize = 100

type response struct {
	Status string  `json:"status"`
	Total  int     `json:"total"`
	Data   []score `json:"data"`
}

// The API encodes numbers as strings
type score struct {
	CVE        string `json:"cve"`
	EPSS       string `json:"epss"`
	Percentile string `json:"percentile"`
	Date       string `json:"date"`
}

// EPSSSource implements enrich.ProbabilitySource
type EPSSSource struct {
	client  *httpclient.Client
	baseURL string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewEPSSSource creates an EPSS client. An empty baseURL selects the public API.
func NewEPSSSource(client *httpclient.Client, baseURL string, logger *logrus.Logger) *EPSSSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &EPSSSource{
		client:  client,
		baseURL: baseURL,
		timeout: 15 * time.Second,
		logger:  logger,
	}
}

// Name returns the source name
func (e *EPSSSource) Name() string {
	return "first-epss"
}

// Timeout returns the per-batch timeout
func (e *EPSSSource) Timeout() time.Duration {
	return e.timeout
}

// MaxBatch returns the service's per-request identifier limit
func (e *EPSSSource) MaxBatch() int {
	return MaxBatchSize
}

// Probabilities returns the exploit probability of every identifier the
// service knows. Unknown identifiers are simply absent from the result.
func (e *EPSSSource) Probabilities(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d identifiers exceeds limit of %d", len(ids), MaxBatchSize)
	}

	q := url.Values{}
	q.Set("cve", strings.Join(ids, ","))
	q.Set("limit", strconv.Itoa(MaxBatchSize))

	var resp response
	if err := e.client.GetJSON(ctx, e.baseURL+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch exploit probabilities: %w", err)
	}

	out := make(map[string]float64, len(resp.Data))
	malformed := 0
	for _, s := range resp.Data {
		id, ok := extract.Normalize(s.CVE)
		if !ok {
			malformed++
			continue
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(s.EPSS), 64)
		if err != nil {
			malformed++
			continue
		}
		out[id] = p
	}

	e.logger.WithFields(logrus.Fields{
		"source":    e.Name(),
		"requested": len(ids),
		"returned":  len(out),
		"malformed": malformed,
	}).Debug("Fetched exploit probabilities")

	return out, nil
}
