// Package sources holds the content adapters that feed digest runs and the
// pain-point miners that feed discovery runs.
//
// Adapters are selected by source type through a Registry. Every adapter is a
// pure read and is safe to call repeatedly; daily and weekly runs only differ
// in the since timestamp they pass.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
)

// Source fetches the items published since a timestamp
type Source interface {
	Type() types.SourceType
	Fetch(ctx context.Context, since time.Time) ([]types.Item, error)
}

const (
	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "scout/1.0"
	maxErrorBody     = 512
)

// Deps are the run-scoped collaborators adapters call through. Every HTTP
// request an adapter issues is retried with Policy and charged to Governor.
type Deps struct {
	HTTPClient *http.Client
	UserAgent  string
	Governor   *cost.Governor
	Policy     retry.Policy
	Logger     *slog.Logger

	// RetryOptions are appended to each call's options (tests inject a sleeper)
	RetryOptions []retry.Option
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) http() *httpClient {
	return newHTTPClient(d.HTTPClient, d.UserAgent)
}

// call runs fn through the retry wrapper, reserving charges on every attempt
func (d *Deps) call(ctx context.Context, op string, charges []cost.Charge, fn func(context.Context) error) error {
	opts := []retry.Option{retry.WithLogger(d.logger())}
	if d.Governor != nil && len(charges) > 0 {
		opts = append(opts, retry.WithGate(d.Governor.Gate(charges...)))
	}
	return retry.DoErr(ctx, d.Policy, op, fn, append(opts, d.RetryOptions...)...)
}

// Registry maps source types to adapters
type Registry struct {
	sources map[types.SourceType]Source
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[types.SourceType]Source)}
}

// Register adds an adapter, replacing any previous one for the same type
func (r *Registry) Register(s Source) {
	r.sources[s.Type()] = s
}

// Get returns the adapter for t
func (r *Registry) Get(t types.SourceType) (Source, error) {
	s, ok := r.sources[t]
	if !ok {
		return nil, fmt.Errorf("no source registered for %q", t)
	}
	return s, nil
}

// Types lists registered source types in name order
func (r *Registry) Types() []types.SourceType {
	out := make([]types.SourceType, 0, len(r.sources))
	for t := range r.sources {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewRegistryFromConfig registers every adapter cfg enables
func NewRegistryFromConfig(cfg *Config, deps Deps) *Registry {
	r := NewRegistry()
	if cfg == nil {
		return r
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = cfg.HTTPClient()
	}
	if deps.UserAgent == "" {
		deps.UserAgent = cfg.UserAgent
	}
	if cfg.Newsletter.Dir != "" {
		r.Register(NewNewsletterSource(cfg.Newsletter, deps))
	}
	if cfg.Launches.FeedURL != "" {
		r.Register(NewLaunchSource(cfg.Launches, deps))
	}
	if cfg.Discussions.BaseURL != "" && len(cfg.Discussions.Boards) > 0 {
		r.Register(NewDiscussionSource(cfg.Discussions, deps))
	}
	if cfg.Videos.BaseURL != "" && len(cfg.Videos.Queries) > 0 {
		r.Register(NewVideoSource(cfg.Videos, deps))
	}
	return r
}

// httpClient issues GET requests and turns non-2xx responses into
// *retry.HTTPError so the default classifier can judge them.
type httpClient struct {
	client    *http.Client
	userAgent string
}

func newHTTPClient(c *http.Client, userAgent string) *httpClient {
	if c == nil {
		c = &http.Client{Timeout: defaultTimeout}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &httpClient{client: c, userAgent: userAgent}
}

func (h *httpClient) get(ctx context.Context, rawURL string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", redact(rawURL), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, URL: redact(rawURL), Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (h *httpClient) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := h.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", redact(rawURL), err)
	}
	return nil
}

func (h *httpClient) getDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := h.get(ctx, rawURL, "text/html")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// buildURL joins base and path and sets query parameters, skipping empty values
func buildURL(base, path string, params map[string]string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", base, err)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact hides API keys from URLs that end up in errors and logs
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// htmlToText flattens an HTML fragment to whitespace-normalized text
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return normalizeSpace(html)
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br, p, div, li, h1, h2, h3, h4, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return normalizeSpace(doc.Text())
}

// normalizeSpace collapses runs of spaces inside lines and drops blank lines
func normalizeSpace(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// absoluteURL resolves ref against base; an empty ref stays empty
func absoluteURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
