// ABOUTME: Tests for the proof-of-concept repository searcher.
// ABOUTME: Tests result filtering, the hourly budget, and provider rate-limit mapping.

package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/enrich"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchResult = `{
  "total_count": 3,
  "incomplete_results": false,
  "items": [
    {"name": "CVE-2025-55182-poc", "full_name": "alice/CVE-2025-55182-poc", "html_url": "https://github.com/alice/CVE-2025-55182-poc", "stargazers_count": 40, "description": "Proof of concept"},
    {"name": "advisories", "full_name": "bob/advisories", "html_url": "https://github.com/bob/advisories", "stargazers_count": 1000, "description": "Mirror of every advisory"},
    {"name": "scanner", "full_name": "carol/scanner", "html_url": "https://github.com/carol/scanner", "stargazers_count": 10, "description": "Detects cve-2025-55182 in deployments"}
  ]
}`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestSearcher(t *testing.T, budget int, handler http.HandlerFunc) *Searcher {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := NewSearcher("token-abc", server.URL, budget, testLogger())
	require.NoError(t, err)
	return s
}

func TestSearcherMetadata(t *testing.T) {
	s, err := NewSearcher("", "", 0, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "github-poc", s.Name())
	assert.Equal(t, 10*time.Second, s.Timeout())
}

func TestSearchExploits(t *testing.T) {
	s := newTestSearcher(t, 10, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, `"CVE-2025-55182" in:name,description,readme`, r.URL.Query().Get("q"))
		assert.Equal(t, "stars", r.URL.Query().Get("sort"))
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, searchResult)
	})

	sig, err := s.SearchExploits(context.Background(), "CVE-2025-55182")
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, 2, sig.RepoCount, "repositories matching only in readme are ignored")
	assert.Equal(t, 50, sig.StarSum)
	require.Len(t, sig.RepoList, 2)
	assert.Equal(t, "alice/CVE-2025-55182-poc", sig.RepoList[0].Name)
	assert.Equal(t, "https://github.com/alice/CVE-2025-55182-poc", sig.RepoList[0].URL)
}

func TestSearchExploitsNoResults(t *testing.T) {
	s := newTestSearcher(t, 10, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_count": 0, "incomplete_results": false, "items": []}`)
	})

	sig, err := s.SearchExploits(context.Background(), "CVE-2025-0001")
	require.NoError(t, err)
	require.NotNil(t, sig, "a completed search with no hits is still a signal")
	assert.Equal(t, 0, sig.RepoCount)
	assert.Empty(t, sig.RepoList)
}

func TestSearchExploitsBudget(t *testing.T) {
	var calls atomic.Int32
	s := newTestSearcher(t, 2, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"total_count": 0, "items": []}`)
	})

	for i := 0; i < 2; i++ {
		_, err := s.SearchExploits(context.Background(), "CVE-2025-0001")
		require.NoError(t, err)
	}
	_, err := s.SearchExploits(context.Background(), "CVE-2025-0002")
	assert.ErrorIs(t, err, enrich.ErrQuotaExhausted)
	assert.Equal(t, int32(2), calls.Load(), "no request once the budget is spent")
}

func TestSearchExploitsProviderRateLimit(t *testing.T) {
	s := newTestSearcher(t, 10, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "30")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	})

	_, err := s.SearchExploits(context.Background(), "CVE-2025-0001")
	require.Error(t, err)
	assert.ErrorIs(t, err, enrich.ErrQuotaExhausted)
}

func TestSearchExploitsServerError(t *testing.T) {
	s := newTestSearcher(t, 10, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := s.SearchExploits(context.Background(), "CVE-2025-0001")
	require.Error(t, err)
	assert.NotErrorIs(t, err, enrich.ErrQuotaExhausted)
}

func TestNewSearcherInvalidURL(t *testing.T) {
	_, err := NewSearcher("", "://bad", 10, testLogger())
	assert.Error(t, err)
}
