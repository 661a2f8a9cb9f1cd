// ABOUTME: Unit tests for the aggregate endpoint.
// ABOUTME: Tests JSON response structure, query validation, filtering, and failure mapping.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementation for testing
type MockAggregator struct {
	resp     *types.AggregateResponse
	err      error
	refreshs []bool
}

func (m *MockAggregator) Aggregate(ctx context.Context, refresh bool) (*types.AggregateResponse, error) {
	m.refreshs = append(m.refreshs, refresh)
	return m.resp, m.err
}

func sampleResponse() *types.AggregateResponse {
	age := int64(120)
	next := int64(780)
	return &types.AggregateResponse{
		AggregateResult: &types.AggregateResult{
			CycleID: "cycle-1",
			Records: []types.VulnerabilityRecord{
				{Identifier: "CVE-2025-0001", AttentionScore: 80, Classification: types.Classification{Tier: types.TierZeroDay}},
				{Identifier: "CVE-2025-0002", AttentionScore: 60, Classification: types.Classification{Tier: types.TierKEV}},
				{Identifier: "CVE-2025-0003", AttentionScore: 40, Classification: types.Classification{Tier: types.TierKEV}},
			},
			Stats:        types.AggregateStats{Total: 3, Correlated: 3},
			SourceHealth: map[string]string{"cisa-kev": "ok", "reddit": "failed"},
			GeneratedAt:  time.Date(2025, 12, 4, 12, 0, 0, 0, time.UTC),
		},
		Cached:             true,
		CacheAgeSeconds:    &age,
		NextRefreshSeconds: &next,
	}
}

func TestAggregateHandler(t *testing.T) {
	// Create test logger
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	tests := []struct {
		name          string
		queryParams   string
		expectedCode  int
		expectRefresh bool
		checkFunc     func(*testing.T, *types.AggregateResponse)
	}{
		{
			name:         "basic request",
			queryParams:  "",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *types.AggregateResponse) {
				assert.Len(t, resp.Records, 3)
				assert.Equal(t, "cycle-1", resp.CycleID)
				assert.True(t, resp.Cached)
				require.NotNil(t, resp.CacheAgeSeconds)
				assert.Equal(t, int64(120), *resp.CacheAgeSeconds)
				assert.Equal(t, "failed", resp.SourceHealth["reddit"])
			},
		},
		{
			name:          "forced refresh",
			queryParams:   "?refresh=true",
			expectedCode:  http.StatusOK,
			expectRefresh: true,
			checkFunc: func(t *testing.T, resp *types.AggregateResponse) {
				assert.Len(t, resp.Records, 3)
			},
		},
		{
			name:         "tier filter",
			queryParams:  "?tier=kev",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *types.AggregateResponse) {
				require.Len(t, resp.Records, 2)
				assert.Equal(t, "CVE-2025-0002", resp.Records[0].Identifier)
				assert.Equal(t, 3, resp.Stats.Total, "stats describe the full result")
			},
		},
		{
			name:         "limit parameter",
			queryParams:  "?limit=1",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *types.AggregateResponse) {
				require.Len(t, resp.Records, 1)
				assert.Equal(t, "CVE-2025-0001", resp.Records[0].Identifier)
			},
		},
		{
			name:         "invalid refresh",
			queryParams:  "?refresh=maybe",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "invalid tier",
			queryParams:  "?tier=SPICY",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "negative limit",
			queryParams:  "?limit=-1",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "limit too large",
			queryParams:  "?limit=5000",
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aggregator := &MockAggregator{resp: sampleResponse()}
			handler := NewAggregateHandler(aggregator, logger)

			req := httptest.NewRequest(http.MethodGet, "/aggregate"+tt.queryParams, nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			if tt.expectedCode != http.StatusOK {
				assert.Empty(t, aggregator.refreshs, "invalid requests never trigger a cycle")
				var body map[string]string
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
				return
			}

			require.Len(t, aggregator.refreshs, 1)
			assert.Equal(t, tt.expectRefresh, aggregator.refreshs[0])

			var response types.AggregateResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			tt.checkFunc(t, &response)
		})
	}
}

func TestAggregateHandlerLimitBounds(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	handler := NewAggregateHandler(&MockAggregator{resp: sampleResponse()}, logger)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/aggregate?limit=-1", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Invalid limit parameter. Must be a non-negative integer", body["error"])

	// Zero means no limit
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/aggregate?limit=0", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp types.AggregateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Records, 3)
}

func TestAggregateHandlerFilterDoesNotMutateResult(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	resp := sampleResponse()
	handler := NewAggregateHandler(&MockAggregator{resp: resp}, logger)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/aggregate?tier=ZERO_DAY", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, resp.Records, 3)
}

func TestFilterViewCopiesRecords(t *testing.T) {
	resp := sampleResponse()
	probability := 0.4
	resp.Records[1].ExploitProbability = &probability
	resp.Records[1].Sources = []string{"cisa-kev"}

	view := filterView(resp, types.TierKEV, 1)
	require.Len(t, view.Records, 1)

	*view.Records[0].ExploitProbability = 0.9
	view.Records[0].Sources[0] = "changed"

	assert.Equal(t, 0.4, *resp.Records[1].ExploitProbability)
	assert.Equal(t, "cisa-kev", resp.Records[1].Sources[0])
	assert.Equal(t, "cycle-1", view.CycleID)
}

func TestAggregateHandlerServiceUnavailable(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	handler := CreateAggregateHandler(&MockAggregator{err: errors.New("all sources failed: cisa-kev FAILED")}, logger)

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/aggregate", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "all sources failed")
}

func TestAggregateHandlerStale(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	resp := sampleResponse()
	resp.Stale = true
	handler := NewAggregateHandler(&MockAggregator{resp: resp}, logger)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/aggregate", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Warning"), "Stale")
	assert.Contains(t, rr.Body.String(), `"stale":true`)
}

func TestAggregateHandlerPretty(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	handler := NewAggregateHandler(&MockAggregator{resp: sampleResponse()}, logger)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/aggregate?pretty=1", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "\n  \"cycleId\""), "pretty output is indented")
}
