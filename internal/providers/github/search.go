// ABOUTME: Code-hosting search for public proof-of-concept repositories.
// ABOUTME: Wraps the GitHub repository search API under an hourly call budget.

package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/enrich"
	"github.com/jfeddern/ThreatPulse/internal/types"

	gh "github.com/google/go-github/v58/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxRepos bounds how many repositories are kept per identifier
const maxRepos = 5

// Searcher implements enrich.ExploitSearcher
type Searcher struct {
	client  *gh.Client
	budget  *rate.Limiter
	timeout time.Duration
	logger  *logrus.Logger
}

// NewSearcher creates a searcher allowed hourlyBudget calls per hour. An
// empty token uses unauthenticated access; a non-empty baseURL points the
// client at another API host.
func NewSearcher(token, baseURL string, hourlyBudget int, logger *logrus.Logger) (*Searcher, error) {
	client := gh.NewClient(&http.Client{})
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}
	if hourlyBudget <= 0 {
		// Unauthenticated search allows 10 calls a minute
		hourlyBudget = 60
	}

	return &Searcher{
		client:  client,
		budget:  rate.NewLimiter(rate.Limit(float64(hourlyBudget)/time.Hour.Seconds()), hourlyBudget),
		timeout: 10 * time.Second,
		logger:  logger,
	}, nil
}

// Name returns the source name
func (s *Searcher) Name() string {
	return "github-poc"
}

// Timeout returns the per-call timeout
func (s *Searcher) Timeout() time.Duration {
	return s.timeout
}

// SearchExploits looks for repositories naming the identifier. Budget or
// provider rate-limit exhaustion is reported as enrich.ErrQuotaExhausted.
func (s *Searcher) SearchExploits(ctx context.Context, id string) (*types.ExploitSignal, error) {
	if !s.budget.Allow() {
		return nil, fmt.Errorf("hourly search budget spent: %w", enrich.ErrQuotaExhausted)
	}

	query := fmt.Sprintf("%q in:name,description,readme", id)
	opts := &gh.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: 30},
	}

	result, _, err := s.client.Search.Repositories(ctx, query, opts)
	if err != nil {
		var rateErr *gh.RateLimitError
		var abuseErr *gh.AbuseRateLimitError
		if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
			return nil, fmt.Errorf("search %s: %v: %w", id, err, enrich.ErrQuotaExhausted)
		}
		return nil, fmt.Errorf("search %s: %w", id, err)
	}

	sig := &types.ExploitSignal{RepoList: []types.ExploitRepo{}}
	lowerID := strings.ToLower(id)
	for _, repo := range result.Repositories {
		if !mentions(repo, lowerID) {
			continue
		}
		sig.RepoCount++
		sig.StarSum += repo.GetStargazersCount()
		if len(sig.RepoList) < maxRepos {
			sig.RepoList = append(sig.RepoList, types.ExploitRepo{
				Name:  repo.GetFullName(),
				URL:   repo.GetHTMLURL(),
				Stars: repo.GetStargazersCount(),
			})
		}
	}

	s.logger.WithFields(logrus.Fields{
		"source":      s.Name(),
		"identifier":  id,
		"total_count": result.GetTotal(),
		"repos":       sig.RepoCount,
	}).Debug("Code search completed")

	return sig, nil
}

// mentions drops search hits that only match inside readme noise such as
// advisory mirrors listing thousands of identifiers
func mentions(repo *gh.Repository, lowerID string) bool {
	if strings.Contains(strings.ToLower(repo.GetName()), lowerID) ||
		strings.Contains(strings.ToLower(repo.GetDescription()), lowerID) {
		return true
	}
	for _, topic := range repo.Topics {
		if strings.EqualFold(topic, lowerID) {
			return true
		}
	}
	return false
}
