// Package openpagerank looks up domain authority from the Open PageRank API.
package openpagerank

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/provider"
)

const (
	// DefaultBaseURL is the getPageRank endpoint.
	DefaultBaseURL = "https://openpagerank.com/api/v1.0/getPageRank"
	// DefaultTimeout bounds one lookup.
	DefaultTimeout = 15 * time.Second

	apiKeyHeader = "API-OPR"
)

// Config controls the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client implements audit.DomainRankProvider.
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

type entry struct {
	Domain          string   `json:"domain"`
	PageRankDecimal *float64 `json:"page_rank_decimal"`
}

type response struct {
	Response []entry `json:"response"`
}

// Fetch returns the 0-10 rank for the domain of domainOrURL.
func (c *Client) Fetch(ctx context.Context, domainOrURL string) audit.ProviderResult[audit.DomainRankMetrics] {
	if !c.Configured() {
		return audit.Failure[audit.DomainRankMetrics]("OPEN_PAGERANK_API_KEY not set")
	}
	domain := audit.NormalizeDomain(domainOrURL)
	if domain == "" {
		return audit.Failure[audit.DomainRankMetrics]("domain or url required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp response
	raw, err := provider.GetJSON(ctx, c.httpClient, provider.Request{
		BaseURL: c.cfg.BaseURL,
		Params:  url.Values{"domains[]": {domain}},
		Header:  http.Header{apiKeyHeader: {c.cfg.APIKey}},
	}, &resp)
	if err != nil {
		c.logger.Debug("open pagerank request failed", zap.String("domain", domain), zap.Error(err))
		return audit.Failure[audit.DomainRankMetrics](err.Error())
	}

	metrics := audit.DomainRankMetrics{Domain: &domain}
	if len(resp.Response) > 0 {
		first := resp.Response[0]
		if first.Domain != "" {
			metrics.Domain = audit.Ptr(first.Domain)
		}
		metrics.Rank = first.PageRankDecimal
	}
	return audit.Success(metrics, raw)
}
