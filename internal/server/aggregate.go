// ABOUTME: HTTP handler for the ranked threat aggregation endpoint.
// ABOUTME: Validates query parameters, triggers or reuses a cycle, and renders JSON.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// Aggregator produces the ranked result, running a cycle when needed
type Aggregator interface {
	Aggregate(ctx context.Context, refresh bool) (*types.AggregateResponse, error)
}

type AggregateHandler struct {
	aggregator Aggregator
	logger     *logrus.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// maxLimit bounds the limit query parameter
const maxLimit = 1000

func NewAggregateHandler(aggregator Aggregator, logger *logrus.Logger) *AggregateHandler {
	return &AggregateHandler{
		aggregator: aggregator,
		logger:     logger,
	}
}

func (a *AggregateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := a.logger.WithField("endpoint", "/aggregate")
	query := r.URL.Query()
	pretty := query.Get("pretty") != ""

	refresh := false
	if raw := strings.TrimSpace(query.Get("refresh")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "Invalid refresh parameter. Must be true or false"}, pretty)
			return
		}
		refresh = parsed
	}

	tierFilter := types.Tier(strings.ToUpper(strings.TrimSpace(query.Get("tier"))))
	if tierFilter != "" && !validTier(tierFilter) {
		a.writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "Invalid tier filter"}, pretty)
		return
	}

	limit := 0 // No limit by default
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			a.writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "Invalid limit parameter. Must be a non-negative integer"}, pretty)
			return
		}
		if parsed > maxLimit {
			a.writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "Limit parameter too large. Maximum allowed is 1000"}, pretty)
			return
		}
		limit = parsed
	}

	logger.WithFields(logrus.Fields{
		"refresh": refresh,
		"tier":    tierFilter,
		"limit":   limit,
	}).Debug("Processing aggregate request")

	resp, err := a.aggregator.Aggregate(r.Context(), refresh)
	if err != nil {
		logger.WithError(err).Error("Aggregation failed")
		a.writeJSON(w, logger, http.StatusServiceUnavailable, errorResponse{Error: err.Error()}, pretty)
		return
	}

	view := filterView(resp, tierFilter, limit)

	if resp.Stale {
		w.Header().Set("Warning", `110 - "Response is Stale"`)
	}
	a.writeJSON(w, logger, http.StatusOK, view, pretty)

	logger.WithFields(logrus.Fields{
		"cycle_id": resp.CycleID,
		"cached":   resp.Cached,
		"stale":    resp.Stale,
		"records":  len(view.Records),
	}).Info("Served aggregate response")
}

// filterView narrows the records without touching the shared cached payload
func filterView(resp *types.AggregateResponse, tier types.Tier, limit int) *types.AggregateResponse {
	if tier == "" && limit == 0 {
		return resp
	}

	records := make([]types.VulnerabilityRecord, 0, len(resp.Records))
	for _, rec := range resp.Records {
		if tier != "" && rec.Classification.Tier != tier {
			continue
		}
		records = append(records, rec.Clone())
		if limit > 0 && len(records) == limit {
			break
		}
	}

	result := *resp.AggregateResult
	result.Records = records
	view := *resp
	view.AggregateResult = &result
	return &view
}

func validTier(tier types.Tier) bool {
	for _, t := range types.AllTiers {
		if t == tier {
			return true
		}
	}
	return false
}

func (a *AggregateHandler) writeJSON(w http.ResponseWriter, logger *logrus.Entry, status int, body interface{}, pretty bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	// Pretty print if requested
	if pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(body); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// CreateAggregateHandler creates a standard HTTP handler
func CreateAggregateHandler(aggregator Aggregator, logger *logrus.Logger) http.HandlerFunc {
	handler := NewAggregateHandler(aggregator, logger)
	return handler.ServeHTTP
}
