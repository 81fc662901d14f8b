package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/types"
)

// listing is the discussion-board listing envelope
type listing struct {
	Data struct {
		Children []struct {
			Data discussionPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type discussionPost struct {
	ID          string  `json:"id"`
	Board       string  `json:"subreddit"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Body        string  `json:"body"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

func (p discussionPost) createdAt() time.Time {
	return time.Unix(int64(p.CreatedUTC), 0).UTC()
}

func (p discussionPost) engagement() float64 {
	return float64(p.Score + p.NumComments)
}

func (p discussionPost) text() string {
	return strings.Join(nonEmpty(p.Title, p.SelfText, p.Body), "\n")
}

// DiscussionSource reads the top posts of each configured board
type DiscussionSource struct {
	cfg  DiscussionsConfig
	deps Deps
	http *httpClient
}

// NewDiscussionSource creates the adapter
func NewDiscussionSource(cfg DiscussionsConfig, deps Deps) *DiscussionSource {
	return &DiscussionSource{cfg: cfg, deps: deps, http: deps.http()}
}

// Type returns the source type
func (s *DiscussionSource) Type() types.SourceType { return types.SourceDiscussions }

// Fetch returns top posts created at or after since, board by board. One
// board failing fails the fetch: a partial listing would silently change
// what the digest covers.
func (s *DiscussionSource) Fetch(ctx context.Context, since time.Time) ([]types.Item, error) {
	window := "day"
	if time.Since(since) > 25*time.Hour {
		window = "week"
	}

	var items []types.Item
	seen := make(map[string]struct{})
	for _, board := range s.cfg.Boards {
		listURL, err := buildURL(s.cfg.BaseURL, "/r/"+board+"/top.json", map[string]string{
			"t":     window,
			"limit": limitParam(s.cfg.Limit),
		})
		if err != nil {
			return nil, err
		}

		var l listing
		err = s.deps.call(ctx, "fetch board "+board, []cost.Charge{cost.One(cost.ResourceSource)}, func(ctx context.Context) error {
			l = listing{}
			return s.http.getJSON(ctx, listURL, &l)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch board %s: %w", board, err)
		}

		for _, child := range l.Data.Children {
			p := child.Data
			if p.ID == "" || p.createdAt().Before(since) {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			text := p.text()
			if text == "" {
				continue
			}
			seen[p.ID] = struct{}{}
			items = append(items, types.Item{
				ID:         "discussion-" + p.ID,
				SourceType: types.SourceDiscussions,
				Title:      p.Title,
				URL:        permalink(s.cfg.BaseURL, p),
				RawText:    text,
				Metadata: map[string]string{
					"board":    board,
					"score":    strconv.Itoa(p.Score),
					"comments": strconv.Itoa(p.NumComments),
				},
				OccurredAt: p.createdAt(),
			})
		}
	}
	return items, nil
}

func permalink(base string, p discussionPost) string {
	if p.Permalink != "" {
		return strings.TrimRight(base, "/") + p.Permalink
	}
	return p.URL
}

func limitParam(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
