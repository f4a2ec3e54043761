// Package remote is the stateless client for the upstream paginated content API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds every request to the remote API.
const DefaultTimeout = 30 * time.Second

const countCacheKey = "count"

// APIError is the typed error for remote fetch failures. The background
// processor treats it as retryable-by-rescheduling, never fatal on its own.
type APIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// MediaRef describes one remote media asset referenced by an item.
type MediaRef struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"filesize"`
}

// Item is one record fetched from the remote API. Payload carries the raw
// document for the entity-mapping policy downstream.
type Item struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Slug    string          `json:"slug"`
	Media   []MediaRef      `json:"media"`
	Payload json.RawMessage `json:"-"`
}

// Page is one page of the remote list endpoint.
type Page struct {
	Docs        []Item `json:"docs"`
	TotalDocs   int    `json:"totalDocs"`
	HasNextPage bool   `json:"hasNextPage"`
	NextPage    *int   `json:"nextPage"`
	Page        int    `json:"page"`
}

type countResponse struct {
	TotalDocs int `json:"totalDocs"`
}

// Config configures a remote client for one source.
type Config struct {
	BaseURL   string
	CountPath string            // defaults to BaseURL + "/count"
	APIKey    string
	Filters   map[string]string // passed through verbatim on every request
	CacheTTL  time.Duration     // count cache freshness window
	Timeout   time.Duration
}

// Client fetches pages and counts from one remote source.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	countCache *expirable.LRU[string, int]
	countGroup singleflight.Group

	mu        sync.Mutex
	lastCount *int // stale fallback when a refresh fails
}

// NewClient creates a remote client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.CountPath == "" {
		cfg.CountPath = cfg.BaseURL + "/count"
	}

	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        slog.Default().With("component", "remote-client"),
		countCache: expirable.NewLRU[string, int](1, nil, cfg.CacheTTL),
	}
}

// Count returns the remote total item count. The value is cached for the
// configured TTL; concurrent refreshes collapse into one request, and a
// failed refresh falls back to the last known value so a status poll never
// fails just because the upstream hiccupped.
func (c *Client) Count(ctx context.Context, forceRefresh bool) (int, error) {
	if !forceRefresh {
		if cached, ok := c.countCache.Get(countCacheKey); ok {
			return cached, nil
		}
	}

	v, err, _ := c.countGroup.Do(countCacheKey, func() (interface{}, error) {
		return c.fetchCount(ctx)
	})
	if err != nil {
		c.mu.Lock()
		stale := c.lastCount
		c.mu.Unlock()
		if stale != nil {
			c.log.WarnContext(ctx, "Count refresh failed, serving stale value", "count", *stale, "error", err)
			return *stale, nil
		}
		return 0, err
	}

	count := v.(int)
	c.countCache.Add(countCacheKey, count)
	c.mu.Lock()
	c.lastCount = &count
	c.mu.Unlock()

	return count, nil
}

func (c *Client) fetchCount(ctx context.Context) (int, error) {
	u, err := c.buildURL(c.cfg.CountPath, nil)
	if err != nil {
		return 0, &APIError{Op: "count", Err: err}
	}

	var resp countResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return 0, err
	}

	return resp.TotalDocs, nil
}

// FetchPage fetches one 1-indexed page of items. Transient failures are
// retried briefly in-call; what still fails surfaces as *APIError for the
// caller to reschedule.
func (c *Client) FetchPage(ctx context.Context, page, limit int) (*Page, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	u, err := c.buildURL(c.cfg.BaseURL, params)
	if err != nil {
		return nil, &APIError{Op: "fetchPage", Err: err}
	}

	var result Page
	err = retry.Do(
		func() error {
			result = Page{}
			return c.getPage(ctx, u, &result)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.DebugContext(ctx, "Retrying page fetch", "page", page, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// getPage decodes the page envelope while keeping each doc's raw payload.
func (c *Client) getPage(ctx context.Context, u string, page *Page) error {
	var envelope struct {
		Docs        []json.RawMessage `json:"docs"`
		TotalDocs   int               `json:"totalDocs"`
		HasNextPage bool              `json:"hasNextPage"`
		NextPage    *int              `json:"nextPage"`
		Page        int               `json:"page"`
	}

	if err := c.getJSON(ctx, u, &envelope); err != nil {
		return err
	}

	page.TotalDocs = envelope.TotalDocs
	page.HasNextPage = envelope.HasNextPage
	page.NextPage = envelope.NextPage
	page.Page = envelope.Page
	page.Docs = make([]Item, 0, len(envelope.Docs))

	for _, raw := range envelope.Docs {
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return &APIError{Op: "fetchPage", Err: fmt.Errorf("malformed doc: %w", err)}
		}
		item.Payload = raw
		page.Docs = append(page.Docs, item)
	}

	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &APIError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: "request", StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: "decode", Err: err}
	}

	return nil
}

// buildURL merges the source's passthrough filter params into the query.
func (c *Client) buildURL(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, v := range c.cfg.Filters {
		q.Set(k, v)
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// isTransient reports whether a fetch error is worth an in-call retry.
// Server-side 5xx and transport errors qualify; 4xx do not.
func isTransient(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return false
	}
	return true
}
