package sources

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/discovery"
	"github.com/steveyegge/scout/internal/types"
)

// Pain-point source names, as referenced by discovery source configs
const (
	MinerDiscussions = "discussions"
	MinerVideos      = "videos"
	MinerLaunches    = "launches"
)

var (
	_ discovery.PainPointSource = (*DiscussionMiner)(nil)
	_ discovery.PainPointSource = (*VideoCommentMiner)(nil)
	_ discovery.QuotaCharger    = (*VideoCommentMiner)(nil)
	_ discovery.PainPointSource = (*LaunchReviewMiner)(nil)
)

// Miners issue exactly one request per Mine call and never retry: the
// discovery pipeline owns retries and budget charges for each call.

// DiscussionMiner searches discussion boards for complaint posts
type DiscussionMiner struct {
	cfg  DiscussionsConfig
	http *httpClient
}

// NewDiscussionMiner creates the miner
func NewDiscussionMiner(cfg DiscussionsConfig, deps Deps) *DiscussionMiner {
	return &DiscussionMiner{cfg: cfg, http: deps.http()}
}

// Name returns the source name
func (m *DiscussionMiner) Name() string { return MinerDiscussions }

// Mine returns posts matching query; engagement is score plus comment count
func (m *DiscussionMiner) Mine(ctx context.Context, query string) ([]types.PainPoint, error) {
	searchURL, err := buildURL(m.cfg.BaseURL, "/search.json", map[string]string{
		"q":     query,
		"sort":  "top",
		"t":     "month",
		"limit": limitParam(m.cfg.Limit),
	})
	if err != nil {
		return nil, err
	}

	var l listing
	if err := m.http.getJSON(ctx, searchURL, &l); err != nil {
		return nil, err
	}

	points := make([]types.PainPoint, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		p := child.Data
		text := p.text()
		if text == "" {
			continue
		}
		points = append(points, types.PainPoint{
			Source:     MinerDiscussions,
			Query:      query,
			Text:       text,
			URL:        permalink(m.cfg.BaseURL, p),
			Engagement: p.engagement(),
		})
	}
	return points, nil
}

type commentThreadsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			TotalReplyCount int `json:"totalReplyCount"`
			TopLevelComment struct {
				Snippet struct {
					VideoID      string `json:"videoId"`
					TextOriginal string `json:"textOriginal"`
					TextDisplay  string `json:"textDisplay"`
					LikeCount    int    `json:"likeCount"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

// VideoCommentMiner searches comment threads on a channel's videos
type VideoCommentMiner struct {
	cfg  VideosConfig
	http *httpClient
}

// NewVideoCommentMiner creates the miner
func NewVideoCommentMiner(cfg VideosConfig, deps Deps) *VideoCommentMiner {
	return &VideoCommentMiner{cfg: cfg, http: deps.http()}
}

// Name returns the source name
func (m *VideoCommentMiner) Name() string { return MinerVideos }

// QuotaCharges is the video quota each Mine call consumes
func (m *VideoCommentMiner) QuotaCharges() []cost.Charge {
	return []cost.Charge{{Resource: cost.ResourceVideoQuota, Units: VideoCommentUnits}}
}

// Mine returns comments matching query; engagement is likes plus replies
func (m *VideoCommentMiner) Mine(ctx context.Context, query string) ([]types.PainPoint, error) {
	threadsURL, err := buildURL(m.cfg.BaseURL, "/commentThreads", map[string]string{
		"part":                         "snippet",
		"searchTerms":                  query,
		"allThreadsRelatedToChannelId": m.cfg.ChannelID,
		"order":                        "relevance",
		"textFormat":                   "plainText",
		"maxResults":                   limitParam(m.cfg.MaxResults),
		"key":                          m.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var resp commentThreadsResponse
	if err := m.http.getJSON(ctx, threadsURL, &resp); err != nil {
		return nil, err
	}

	points := make([]types.PainPoint, 0, len(resp.Items))
	for _, it := range resp.Items {
		c := it.Snippet.TopLevelComment.Snippet
		text := strings.TrimSpace(c.TextOriginal)
		if text == "" {
			text = htmlToText(c.TextDisplay)
		}
		if text == "" {
			continue
		}
		var link string
		if c.VideoID != "" {
			link = fmt.Sprintf("https://www.youtube.com/watch?v=%s&lc=%s", c.VideoID, it.ID)
		}
		points = append(points, types.PainPoint{
			Source:     MinerVideos,
			Query:      query,
			Text:       text,
			URL:        link,
			Engagement: float64(c.LikeCount + it.Snippet.TotalReplyCount),
		})
	}
	return points, nil
}

var digitsExpr = regexp.MustCompile(`\d[\d,]*`)

// LaunchReviewMiner scrapes launch-board review pages
type LaunchReviewMiner struct {
	cfg  LaunchesConfig
	http *httpClient
}

// NewLaunchReviewMiner creates the miner
func NewLaunchReviewMiner(cfg LaunchesConfig, deps Deps) *LaunchReviewMiner {
	return &LaunchReviewMiner{cfg: cfg, http: deps.http()}
}

// Name returns the source name
func (m *LaunchReviewMiner) Name() string { return MinerLaunches }

// Mine returns reviews on the search page for query; engagement is the
// review's helpful-vote count.
func (m *LaunchReviewMiner) Mine(ctx context.Context, query string) ([]types.PainPoint, error) {
	pageURL, err := buildURL(m.cfg.ReviewsURL, "", map[string]string{"q": query})
	if err != nil {
		return nil, err
	}
	doc, err := m.http.getDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var points []types.PainPoint
	doc.Find(m.cfg.ReviewSelector).Each(func(_ int, s *goquery.Selection) {
		body := s
		if m.cfg.TextSelector != "" {
			body = s.Find(m.cfg.TextSelector).First()
		}
		text := normalizeSpace(body.Text())
		if text == "" {
			return
		}
		var votes float64
		if m.cfg.VotesSelector != "" {
			votes = parseCount(s.Find(m.cfg.VotesSelector).First().Text())
		}
		link, _ := s.Find("a[href]").First().Attr("href")
		points = append(points, types.PainPoint{
			Source:     MinerLaunches,
			Query:      query,
			Text:       text,
			URL:        absoluteURL(pageURL, link),
			Engagement: votes,
		})
	})
	return points, nil
}

// parseCount reads the first number in s, e.g. "1,204 found this helpful"
func parseCount(s string) float64 {
	match := digitsExpr.FindString(s)
	if match == "" {
		return 0
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0
	}
	return n
}

// NewMinerRegistry registers a miner for every adapter cfg enables
func NewMinerRegistry(cfg *Config, deps Deps) (*discovery.Registry, error) {
	r := discovery.NewRegistry()
	if cfg == nil {
		return r, nil
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = cfg.HTTPClient()
	}
	if deps.UserAgent == "" {
		deps.UserAgent = cfg.UserAgent
	}

	var miners []discovery.PainPointSource
	if cfg.Discussions.BaseURL != "" {
		miners = append(miners, NewDiscussionMiner(cfg.Discussions, deps))
	}
	if cfg.Videos.BaseURL != "" && cfg.Videos.APIKey != "" {
		miners = append(miners, NewVideoCommentMiner(cfg.Videos, deps))
	}
	if cfg.Launches.ReviewsURL != "" && cfg.Launches.ReviewSelector != "" {
		miners = append(miners, NewLaunchReviewMiner(cfg.Launches, deps))
	}
	for _, m := range miners {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}
