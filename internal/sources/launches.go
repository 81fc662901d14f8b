package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/types"
)

type launchFeed struct {
	Posts []launchPost `json:"posts"`
}

type launchPost struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Tagline     string    `json:"tagline"`
	Description string    `json:"description"`
	Votes       int       `json:"votes"`
	Comments    int       `json:"comments"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// LaunchSource reads a launch-board JSON feed
type LaunchSource struct {
	feedURL string
	deps    Deps
	http    *httpClient
}

// NewLaunchSource creates the adapter
func NewLaunchSource(cfg LaunchesConfig, deps Deps) *LaunchSource {
	return &LaunchSource{feedURL: cfg.FeedURL, deps: deps, http: deps.http()}
}

// Type returns the source type
func (s *LaunchSource) Type() types.SourceType { return types.SourceLaunches }

// Fetch returns launches created at or after since, in feed order
func (s *LaunchSource) Fetch(ctx context.Context, since time.Time) ([]types.Item, error) {
	feedURL, err := buildURL(s.feedURL, "", map[string]string{"since": since.UTC().Format(time.RFC3339)})
	if err != nil {
		return nil, err
	}

	var feed launchFeed
	err = s.deps.call(ctx, "fetch launches", []cost.Charge{cost.One(cost.ResourceSource)}, func(ctx context.Context) error {
		feed = launchFeed{}
		return s.http.getJSON(ctx, feedURL, &feed)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch launches: %w", err)
	}

	items := make([]types.Item, 0, len(feed.Posts))
	for _, p := range feed.Posts {
		if p.ID == "" || p.CreatedAt.Before(since) {
			continue
		}
		text := strings.TrimSpace(strings.Join(nonEmpty(p.Name, p.Tagline, p.Description), "\n"))
		if text == "" {
			continue
		}
		items = append(items, types.Item{
			ID:         "launch-" + p.ID,
			SourceType: types.SourceLaunches,
			Title:      p.Name,
			URL:        p.URL,
			RawText:    text,
			Metadata: map[string]string{
				"votes":    fmt.Sprint(p.Votes),
				"comments": fmt.Sprint(p.Comments),
			},
			OccurredAt: p.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
