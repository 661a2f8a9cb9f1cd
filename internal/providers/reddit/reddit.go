// ABOUTME: Social discussion connector searching Reddit communities for identifiers.
// ABOUTME: Accumulates post counts, upvotes, and the top community per identifier.

package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/providers/httpclient"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public Reddit host
const DefaultBaseURL = "https://www.reddit.com"

// DefaultCommunities are searched when none are configured
var DefaultCommunities = []string{"netsec", "cybersecurity", "sysadmin", "blueteamsec"}

type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Selftext  string `json:"selftext"`
	Score     int    `json:"score"`
	Subreddit string `json:"subreddit"`
	Permalink string `json:"permalink"`
}

// Source implements the engine connector for social discussion
type Source struct {
	client      *httpclient.Client
	baseURL     string
	communities []string
	timeout     time.Duration
	logger      *logrus.Logger
}

// NewSource creates a connector searching communities. An empty baseURL
// selects the public host.
func NewSource(client *httpclient.Client, baseURL string, communities []string, logger *logrus.Logger) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if len(communities) == 0 {
		communities = DefaultCommunities
	}
	return &Source{
		client:      client,
		baseURL:     strings.TrimRight(baseURL, "/"),
		communities: communities,
		timeout:     15 * time.Second,
		logger:      logger,
	}
}

// Name returns the connector name
func (s *Source) Name() string {
	return "reddit"
}

// Kind returns the text kind
func (s *Source) Kind() types.SourceKind {
	return types.KindText
}

// Timeout returns the per-fetch timeout
func (s *Source) Timeout() time.Duration {
	return s.timeout
}

// Fetch searches every community. A failing community is skipped; the fetch
// fails only when all of them fail.
func (s *Source) Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"operation": "fetch",
		"source":    s.Name(),
	})

	signals := make(map[string]*types.SocialSignal)
	seenPosts := make(map[string]struct{})
	var errs []error
	posts := 0

	for _, community := range s.communities {
		var result listing
		if err := s.client.GetJSON(ctx, s.searchURL(community), nil, &result); err != nil {
			errs = append(errs, fmt.Errorf("r/%s: %w", community, err))
			logger.WithError(err).WithField("community", community).Warn("Community search failed")
			continue
		}

		for _, child := range result.Data.Children {
			p := child.Data
			if _, dup := seenPosts[p.ID]; dup && p.ID != "" {
				continue
			}
			seenPosts[p.ID] = struct{}{}
			posts++

			if p.Subreddit == "" {
				p.Subreddit = community
			}
			for _, id := range extract.FromFields(p.Title, p.Selftext) {
				accumulate(signals, id, p)
			}
		}
	}

	if len(errs) == len(s.communities) {
		return nil, fmt.Errorf("all community searches failed: %w", errors.Join(errs...))
	}

	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]types.VulnerabilityRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, types.VulnerabilityRecord{
			Identifier:   id,
			SocialSignal: signals[id],
		})
	}

	logger.WithFields(logrus.Fields{
		"communities":        len(s.communities),
		"failed_communities": len(errs),
		"posts":              posts,
		"identifiers":        len(records),
	}).Info("Fetched social discussion")

	return records, nil
}

func (s *Source) searchURL(community string) string {
	q := url.Values{}
	q.Set("q", "CVE")
	q.Set("restrict_sr", "1")
	q.Set("sort", "new")
	q.Set("t", "week")
	q.Set("limit", "100")
	return fmt.Sprintf("%s/r/%s/search.json?%s", s.baseURL, url.PathEscape(community), q.Encode())
}

func accumulate(signals map[string]*types.SocialSignal, id string, p post) {
	sig, ok := signals[id]
	if !ok {
		sig = &types.SocialSignal{}
		signals[id] = sig
	}
	sig.PostCount++
	if p.Score > 0 {
		sig.TotalUpvotes += p.Score
	}
	if sig.TopCommunity == "" || p.Score > sig.TopPostScore {
		sig.TopPostScore = p.Score
		sig.TopCommunity = p.Subreddit
	}
}
