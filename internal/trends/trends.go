// Package trends looks up demand signals for discovery candidates
package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/discovery"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
)

// Directions a demand signal can report
const (
	DirectionRising  = "rising"
	DirectionFlat    = "flat"
	DirectionFalling = "falling"
)

var _ discovery.Validator = (*HTTPValidator)(nil)

// Config configures the trend API
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Region  string        `yaml:"region" json:"region"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type trendResponse struct {
	Keyword      string   `json:"keyword"`
	Score        *float64 `json:"score"`
	Direction    string   `json:"direction"`
	RelatedTerms []string `json:"related_terms"`
}

// HTTPValidator calls the trend API once per Validate. Retries and budget
// charges belong to the caller.
type HTTPValidator struct {
	cfg    Config
	client *http.Client
}

// NewHTTPValidator creates a validator. A nil client gets one with cfg.Timeout.
func NewHTTPValidator(cfg Config, client *http.Client) (*HTTPValidator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("trends base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid trends base_url: %w", err)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPValidator{cfg: cfg, client: client}, nil
}

// Validate returns the demand signal for keyword
func (v *HTTPValidator) Validate(ctx context.Context, keyword string) (*types.DemandSignal, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("keyword is required")
	}

	u, err := url.Parse(strings.TrimRight(v.cfg.BaseURL, "/") + "/interest")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("keyword", keyword)
	if v.cfg.Region != "" {
		q.Set("geo", v.cfg.Region)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if v.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trend lookup %q: %w", keyword, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, URL: u.Path, Body: strings.TrimSpace(string(body))}
	}

	var tr trendResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode trend response: %w", err)
	}
	if tr.Score == nil {
		return nil, fmt.Errorf("trend response for %q has no score", keyword)
	}

	return &types.DemandSignal{
		Keyword:      keyword,
		Score:        min(max(*tr.Score, 0), 100),
		Direction:    normalizeDirection(tr.Direction),
		RelatedTerms: tr.RelatedTerms,
	}, nil
}

func normalizeDirection(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "rising", "up", "increasing":
		return DirectionRising
	case "falling", "down", "decreasing":
		return DirectionFalling
	default:
		return DirectionFlat
	}
}
