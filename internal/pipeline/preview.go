package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/score"
)

// Preview calls every provider once, without retries, fallbacks or
// persistence, and returns what came back. It is a debugging aid for
// checking credentials and upstream health.
func (p *Processor) Preview(ctx context.Context, targetURL, domain, keyword string) PreviewResult {
	started := p.clock.Now()
	targetURL = strings.TrimSpace(targetURL)
	keyword = strings.TrimSpace(keyword)
	domain = audit.NormalizeDomain(domain)
	if domain == "" {
		domain = audit.NormalizeDomain(targetURL)
	}
	seed := domain
	if seed == "" {
		seed = targetURL
	}

	var (
		data audit.ProviderData
		g    errgroup.Group
	)
	g.Go(func() error {
		res := once(ctx, p, audit.ProviderPageSpeed, func(ctx context.Context) audit.ProviderResult[audit.PageSpeedMetrics] {
			return p.pagespeed.Fetch(ctx, targetURL)
		})
		data.PageSpeed = &res
		return nil
	})
	g.Go(func() error {
		res := once(ctx, p, audit.ProviderOpenPageRank, func(ctx context.Context) audit.ProviderResult[audit.DomainRankMetrics] {
			return p.opr.Fetch(ctx, seed)
		})
		data.OpenPageRank = &res
		return nil
	})
	if keyword != "" && domain != "" {
		g.Go(func() error {
			res := once(ctx, p, audit.ProviderSerp, func(ctx context.Context) audit.ProviderResult[audit.SerpMetrics] {
				return p.serp.Fetch(ctx, keyword, domain)
			})
			data.Serp = &res
			return nil
		})
	}
	_ = g.Wait()

	return PreviewResult{
		TargetURL:    targetURL,
		Domain:       domain,
		Keyword:      keyword,
		ProviderData: data,
		Scores: score.Compute(score.Inputs{
			PageSpeed:    normalized(data.PageSpeed),
			OpenPageRank: normalized(data.OpenPageRank),
			Serp:         normalized(data.Serp),
		}),
		Elapsed: nonNegative(p.clock.Now().Sub(started)),
	}
}

func once[T any](ctx context.Context, p *Processor, kind audit.ProviderKind, call func(context.Context) audit.ProviderResult[T]) (res audit.ProviderResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = audit.Failure[T]("provider panic")
		}
	}()
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, string(kind)); err != nil {
			return audit.Failure[T]("rate limit wait: " + err.Error())
		}
	}
	return call(ctx)
}
