package sources

import (
	"fmt"
	"net/http"
	"time"
)

// Config holds the endpoints and keys of every adapter. An adapter whose
// required fields are empty is not registered.
type Config struct {
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`

	Newsletter  NewsletterConfig  `yaml:"newsletter" json:"newsletter"`
	Launches    LaunchesConfig    `yaml:"launches" json:"launches"`
	Discussions DiscussionsConfig `yaml:"discussions" json:"discussions"`
	Videos      VideosConfig      `yaml:"videos" json:"videos"`
}

// NewsletterConfig points at a mailbox export: a directory of .eml files
type NewsletterConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// LaunchesConfig configures the launch-board feed and review pages
type LaunchesConfig struct {
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	// ReviewsURL is searched with ?q=<query> by the review miner
	ReviewsURL     string `yaml:"reviews_url" json:"reviews_url"`
	ReviewSelector string `yaml:"review_selector" json:"review_selector"`
	TextSelector   string `yaml:"text_selector" json:"text_selector"`
	VotesSelector  string `yaml:"votes_selector" json:"votes_selector"`
}

// DiscussionsConfig configures the discussion-board listings
type DiscussionsConfig struct {
	BaseURL string   `yaml:"base_url" json:"base_url"`
	Boards  []string `yaml:"boards" json:"boards"`
	Limit   int      `yaml:"limit" json:"limit"`
}

// VideosConfig configures the video-platform API
type VideosConfig struct {
	BaseURL    string   `yaml:"base_url" json:"base_url"`
	APIKey     string   `yaml:"api_key" json:"-"`
	Queries    []string `yaml:"queries" json:"queries"`
	MaxResults int      `yaml:"max_results" json:"max_results"`

	// ChannelID scopes comment-thread mining
	ChannelID string `yaml:"channel_id" json:"channel_id"`
}

// Quota units the video platform charges per call
const (
	VideoSearchUnits  = 100
	VideoCommentUnits = 1
)

// DefaultConfig returns the default adapter configuration. Endpoints are
// left empty: a deployment names the ones it uses.
func DefaultConfig() *Config {
	return &Config{
		UserAgent: defaultUserAgent,
		Timeout:   defaultTimeout,
		Launches: LaunchesConfig{
			ReviewSelector: ".review",
			TextSelector:   ".review-body",
			VotesSelector:  ".helpful-count",
		},
		Discussions: DiscussionsConfig{
			BaseURL: "https://www.reddit.com",
			Limit:   25,
		},
		Videos: VideosConfig{
			BaseURL:    "https://www.googleapis.com/youtube/v3",
			MaxResults: 25,
		},
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("sources timeout must be non-negative, got %v", c.Timeout)
	}
	if c.Discussions.Limit < 0 {
		return fmt.Errorf("discussions limit must be non-negative, got %d", c.Discussions.Limit)
	}
	if c.Videos.MaxResults < 0 || c.Videos.MaxResults > 50 {
		return fmt.Errorf("videos max_results must be between 0 and 50, got %d", c.Videos.MaxResults)
	}
	if len(c.Videos.Queries) > 0 && c.Videos.APIKey == "" {
		return fmt.Errorf("videos queries configured without an api key")
	}
	return nil
}

// HTTPClient returns a client with the configured timeout
func (c *Config) HTTPClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
