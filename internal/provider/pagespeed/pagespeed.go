// Package pagespeed fetches Lighthouse performance metrics from the PageSpeed Insights API.
package pagespeed

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/provider"
)

const (
	// DefaultBaseURL is the v5 runPagespeed endpoint.
	DefaultBaseURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	// DefaultTimeout is longer than the other providers because Lighthouse runs server side.
	DefaultTimeout = 30 * time.Second
	// DefaultStrategy is the Lighthouse form factor.
	DefaultStrategy = "mobile"
)

// Config controls the client.
type Config struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Strategy string
}

// Client implements audit.PageSpeedProvider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Its timeout is left untouched.
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

// New builds a Client, filling defaults for zero config values.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
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

type numericAudit struct {
	NumericValue *float64 `json:"numericValue"`
}

type response struct {
	LighthouseResult struct {
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]numericAudit `json:"audits"`
	} `json:"lighthouseResult"`
}

// Fetch runs a mobile Lighthouse analysis of targetURL. Missing fields in the
// response become nil metrics rather than a failure.
func (c *Client) Fetch(ctx context.Context, targetURL string) audit.ProviderResult[audit.PageSpeedMetrics] {
	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return audit.Failure[audit.PageSpeedMetrics]("url required")
	}
	if !c.Configured() {
		return audit.Failure[audit.PageSpeedMetrics]("PAGESPEED_API_KEY not set")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp response
	raw, err := provider.GetJSON(ctx, c.httpClient, provider.Request{
		BaseURL: c.cfg.BaseURL,
		Params: url.Values{
			"url":      {targetURL},
			"strategy": {c.cfg.Strategy},
			"key":      {c.cfg.APIKey},
		},
	}, &resp)
	if err != nil {
		c.logger.Debug("pagespeed request failed", zap.String("url", targetURL), zap.Error(err))
		return audit.Failure[audit.PageSpeedMetrics](err.Error())
	}

	lh := resp.LighthouseResult
	metrics := audit.PageSpeedMetrics{
		FCPMs: metric(lh.Audits, "first-contentful-paint"),
		LCPMs: metric(lh.Audits, "largest-contentful-paint"),
		TBTMs: metric(lh.Audits, "total-blocking-time"),
		CLS:   metric(lh.Audits, "cumulative-layout-shift"),
	}
	if s := lh.Categories.Performance.Score; s != nil {
		perf := int(math.Round(*s * 100))
		metrics.Performance = &perf
	}
	return audit.Success(metrics, raw)
}

func metric(audits map[string]numericAudit, name string) *float64 {
	a, ok := audits[name]
	if !ok {
		return nil
	}
	return a.NumericValue
}
