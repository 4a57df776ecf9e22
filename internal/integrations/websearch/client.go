// Package websearch queries the Google Custom Search JSON API through the
// call gateway.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"search-agent/internal/domain"
	"search-agent/internal/gateway"
)

const (
	defaultBaseURL     = "https://www.googleapis.com"
	defaultResultCount = 5

	APIKeyParameter   = "google_cse_api_key"
	EngineIDParameter = "google_cse_id"

	defaultTitle   = "No Title"
	defaultLink    = "#"
	defaultSnippet = "No snippet available."
)

// ErrMalformedResponse is returned when a 200 response is not JSON.
var ErrMalformedResponse = errors.New("websearch: malformed response")

// Issuer executes an outbound call through the gateway.
type Issuer interface {
	Issue(ctx context.Context, req gateway.Request, transform gateway.Transform) (gateway.Response, error)
}

// CredentialResolver resolves named credentials at call time.
type CredentialResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Client performs web searches.
type Client struct {
	gw      Issuer
	creds   CredentialResolver
	baseURL string
	count   int
	budget  gateway.Budget
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(baseURL); v != "" {
			c.baseURL = v
		}
	}
}

// WithResultCount sets the number of results requested (1..10).
func WithResultCount(n int) Option {
	return func(c *Client) {
		if n >= 1 && n <= 10 {
			c.count = n
		}
	}
}

// WithBudget sets the resource quota attached to every search call.
func WithBudget(b gateway.Budget) Option {
	return func(c *Client) {
		c.budget = b
	}
}

func NewClient(gw Issuer, creds CredentialResolver, opts ...Option) (*Client, error) {
	if gw == nil {
		return nil, errors.New("websearch: gateway must not be nil")
	}
	if creds == nil {
		return nil, errors.New("websearch: credential resolver must not be nil")
	}
	c := &Client{
		gw:      gw,
		creds:   creds,
		baseURL: defaultBaseURL,
		count:   defaultResultCount,
		budget:  gateway.Budget{MaxResponseBytes: 1 << 20, Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func searchURL(baseURL string, params url.Values) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/customsearch/v1") {
		base += "/customsearch/v1"
	}
	return base + "?" + params.Encode()
}

// Search returns the result items for query. A response without items is an
// empty, successful result.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	apiKey, err := c.creds.Resolve(ctx, APIKeyParameter)
	if err != nil {
		return nil, err
	}
	engineID, err := c.creds.Resolve(ctx, EngineIDParameter)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("cx", engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(c.count))

	res, err := c.gw.Issue(ctx, gateway.Request{
		Method:  http.MethodGet,
		URL:     searchURL(c.baseURL, params),
		Headers: map[string]string{"Accept": "application/json"},
		Budget:  c.budget,
	}, gateway.SearchTransform)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	return parseItems(res.Body)
}

// parseItems maps the items array, substituting defaults for missing or
// non-string fields.
func parseItems(body []byte) ([]domain.SearchResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedResponse
	}
	items := gjson.GetBytes(body, "items")
	if !items.IsArray() {
		return []domain.SearchResult{}, nil
	}

	out := make([]domain.SearchResult, 0, len(items.Array()))
	items.ForEach(func(_, item gjson.Result) bool {
		r := domain.SearchResult{
			Title:   stringOr(item.Get("title"), defaultTitle),
			Link:    stringOr(item.Get("link"), defaultLink),
			Snippet: stringOr(item.Get("snippet"), defaultSnippet),
		}
		if dl := item.Get("displayLink"); dl.Type == gjson.String && dl.String() != "" {
			v := dl.String()
			r.DisplayLink = &v
		}
		out = append(out, r)
		return true
	})
	return out, nil
}

func stringOr(v gjson.Result, fallback string) string {
	if v.Type != gjson.String || v.String() == "" {
		return fallback
	}
	return v.String()
}
