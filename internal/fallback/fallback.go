// Package fallback synthesizes deterministic placeholder provider results.
//
// Values are derived from an xxhash of the seed, so the same seed always maps
// to the same number inside a fixed range per kind.
package fallback

import (
	"github.com/cespare/xxhash/v2"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Kind selects the value range used by Value.
type Kind string

// Fallback kinds.
const (
	KindPageSpeed    Kind = "pagespeed"
	KindOpenPageRank Kind = "openpagerank"
	KindSerp         Kind = "serp"
	KindSocial       Kind = "social"
)

const defaultSeed = "default"

type bounds struct {
	min, max int
}

var ranges = map[Kind]bounds{
	KindPageSpeed:    {60, 90},
	KindOpenPageRank: {3, 8},
	KindSerp:         {5, 30},
	KindSocial:       {50, 90},
}

// Value maps seed into the inclusive range for kind. Unknown kinds use 0-100.
func Value(kind Kind, seed string) int {
	if seed == "" {
		seed = defaultSeed
	}
	b, ok := ranges[kind]
	if !ok {
		b = bounds{0, 100}
	}
	span := uint64(b.max - b.min + 1)
	return b.min + int(xxhash.Sum64String(seed)%span)
}

// PageSpeed returns a fallback performance result seeded by the target URL.
func PageSpeed(seed string) audit.ProviderResult[audit.PageSpeedMetrics] {
	perf := Value(KindPageSpeed, seed)
	res := audit.Success(audit.PageSpeedMetrics{Performance: &perf}, nil)
	res.Fallback = true
	return res
}

// OpenPageRank returns a fallback domain rank seeded by the domain or URL.
func OpenPageRank(seed string) audit.ProviderResult[audit.DomainRankMetrics] {
	rank := float64(Value(KindOpenPageRank, seed))
	res := audit.Success(audit.DomainRankMetrics{
		Domain: audit.StringOrNil(audit.NormalizeDomain(seed)),
		Rank:   &rank,
	}, nil)
	res.Fallback = true
	return res
}

// Serp returns a fallback search position for keyword and domain.
func Serp(keyword, domain string) audit.ProviderResult[audit.SerpMetrics] {
	rank := Value(KindSerp, keyword+":"+domain)
	res := audit.Success(audit.SerpMetrics{Keyword: keyword, Domain: domain, Rank: &rank}, nil)
	res.Fallback = true
	return res
}

// Social returns the placeholder social score for seed.
func Social(seed string) int {
	return Value(KindSocial, seed)
}
