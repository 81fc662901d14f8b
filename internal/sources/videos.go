package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/types"
)

type videoSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			Description  string    `json:"description"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// VideoSource searches the video platform once per configured query. Each
// search costs VideoSearchUnits of the run's video quota; a query the quota
// cannot cover is skipped.
type VideoSource struct {
	cfg  VideosConfig
	deps Deps
	http *httpClient
}

// NewVideoSource creates the adapter
func NewVideoSource(cfg VideosConfig, deps Deps) *VideoSource {
	return &VideoSource{cfg: cfg, deps: deps, http: deps.http()}
}

// Type returns the source type
func (s *VideoSource) Type() types.SourceType { return types.SourceVideos }

// Fetch returns videos published at or after since across every query,
// deduplicated by video ID in query order.
func (s *VideoSource) Fetch(ctx context.Context, since time.Time) ([]types.Item, error) {
	charges := []cost.Charge{
		cost.One(cost.ResourceSource),
		{Resource: cost.ResourceVideoQuota, Units: VideoSearchUnits},
	}

	var items []types.Item
	seen := make(map[string]struct{})
	for _, query := range s.cfg.Queries {
		searchURL, err := buildURL(s.cfg.BaseURL, "/search", map[string]string{
			"part":           "snippet",
			"type":           "video",
			"order":          "viewCount",
			"q":              query,
			"publishedAfter": since.UTC().Format(time.RFC3339),
			"maxResults":     limitParam(s.cfg.MaxResults),
			"key":            s.cfg.APIKey,
		})
		if err != nil {
			return nil, err
		}

		var resp videoSearchResponse
		err = s.deps.call(ctx, "search videos", charges, func(ctx context.Context) error {
			resp = videoSearchResponse{}
			return s.http.getJSON(ctx, searchURL, &resp)
		})
		if errors.Is(err, cost.ErrBudgetDenied) {
			s.deps.logger().Debug("video search skipped", "query", query, "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("search videos %q: %w", query, err)
		}

		for _, v := range resp.Items {
			id := v.ID.VideoID
			if id == "" || v.Snippet.PublishedAt.Before(since) {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			text := strings.Join(nonEmpty(v.Snippet.Title, v.Snippet.Description), "\n")
			if text == "" {
				continue
			}
			seen[id] = struct{}{}
			items = append(items, types.Item{
				ID:         "video-" + id,
				SourceType: types.SourceVideos,
				Title:      v.Snippet.Title,
				URL:        "https://www.youtube.com/watch?v=" + id,
				RawText:    text,
				Metadata:   map[string]string{"channel": v.Snippet.ChannelTitle, "query": query},
				OccurredAt: v.Snippet.PublishedAt.UTC(),
			})
		}
	}
	return items, nil
}
