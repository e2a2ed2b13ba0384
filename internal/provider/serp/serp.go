// Package serp finds a domain's organic Google position through SerpAPI.
package serp

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/provider"
)

const (
	// DefaultBaseURL is the SerpAPI search endpoint.
	DefaultBaseURL = "https://serpapi.com/search.json"
	// DefaultTimeout bounds one search.
	DefaultTimeout = 15 * time.Second
	// MaxResults is how deep the organic results are scanned.
	MaxResults = 50
)

// Config controls the client.
type Config struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Language string
	Country  string
}

// Client implements audit.SearchRankProvider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Country == "" {
		cfg.Country = "us"
	}
	c := &Client{
		cfg:        cfg,
		httpClient: provider.NewHTTPClient(cfg.Timeout),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

type organicResult struct {
	Link          string `json:"link"`
	DisplayedLink string `json:"displayed_link"`
}

type response struct {
	OrganicResults []organicResult `json:"organic_results"`
}

// Fetch searches keyword and returns the 1-based position of domain among the
// organic results. A domain outside the top results is a success with nil rank.
func (c *Client) Fetch(ctx context.Context, keyword, domain string) audit.ProviderResult[audit.SerpMetrics] {
	if !c.Configured() {
		return audit.Failure[audit.SerpMetrics]("SERPAPI_KEY not set")
	}
	keyword = strings.TrimSpace(keyword)
	domain = strings.TrimSpace(domain)
	if keyword == "" || domain == "" {
		return audit.Failure[audit.SerpMetrics]("keyword and domain required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp response
	raw, err := provider.GetJSON(ctx, c.httpClient, provider.Request{
		BaseURL: c.cfg.BaseURL,
		Params: url.Values{
			"engine":  {"google"},
			"q":       {keyword},
			"num":     {strconv.Itoa(MaxResults)},
			"hl":      {c.cfg.Language},
			"gl":      {c.cfg.Country},
			"api_key": {c.cfg.APIKey},
		},
	}, &resp)
	if err != nil {
		c.logger.Debug("serp request failed", zap.String("keyword", keyword), zap.Error(err))
		return audit.Failure[audit.SerpMetrics](err.Error())
	}

	return audit.Success(audit.SerpMetrics{
		Keyword: keyword,
		Domain:  domain,
		Rank:    position(resp.OrganicResults, domain),
	}, raw)
}

// position returns the 1-based index of the first result whose link or
// displayed link contains domain, or nil.
func position(results []organicResult, domain string) *int {
	needle := audit.NormalizeDomain(domain)
	if needle == "" {
		return nil
	}
	for i, r := range results {
		if i >= MaxResults {
			break
		}
		if strings.Contains(audit.MatchHost(r.Link), needle) ||
			strings.Contains(audit.MatchHost(r.DisplayedLink), needle) {
			pos := i + 1
			return &pos
		}
	}
	return nil
}
