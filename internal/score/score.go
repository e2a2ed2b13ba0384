// Package score turns normalized provider outputs into 0-100 category scores.
package score

import (
	"math"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Weights for the overall score. They are renormalized over the categories
// that are present.
const (
	weightSEO        = 0.4
	weightRank       = 0.4
	weightDomainRank = 0.2
)

// Penalty thresholds for layout shift and blocking time.
const (
	clsSevere = 0.25
	clsMinor  = 0.1
	tbtSevere = 600.0
	tbtMinor  = 300.0

	maxSerpRank = 50
)

// Inputs holds the normalized provider outputs. Nil means the provider
// produced nothing usable.
type Inputs struct {
	PageSpeed    *audit.PageSpeedMetrics
	OpenPageRank *audit.DomainRankMetrics
	Serp         *audit.SerpMetrics
	// Social is passed through untouched and never weighted.
	Social *int
}

// Clamp rounds v half away from zero and bounds it to [0,100].
func Clamp(v float64) int {
	r := math.Round(v)
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return int(r)
	}
}

// FromPageSpeed derives the seo score from performance with CLS and TBT penalties.
func FromPageSpeed(m *audit.PageSpeedMetrics) *int {
	if m == nil || m.Performance == nil {
		return nil
	}
	v := float64(*m.Performance)
	if m.CLS != nil {
		switch {
		case *m.CLS > clsSevere:
			v -= 10
		case *m.CLS > clsMinor:
			v -= 5
		}
	}
	if m.TBTMs != nil {
		switch {
		case *m.TBTMs > tbtSevere:
			v -= 10
		case *m.TBTMs > tbtMinor:
			v -= 5
		}
	}
	s := Clamp(v)
	return &s
}

// FromSerpRank maps a 1-based position onto 100 (first) down to 2 (fiftieth).
func FromSerpRank(rank *int) *int {
	if rank == nil {
		return nil
	}
	s := Clamp(100 - float64(*rank-1)*98/(maxSerpRank-1))
	return &s
}

// FromOpenPageRank scales a 0-10 domain rank to 0-100.
func FromOpenPageRank(rank *float64) *int {
	if rank == nil {
		return nil
	}
	s := Clamp(*rank * 10)
	return &s
}

// Compute builds the ScoreSet. Overall is nil when seo, rank and domain rank
// are all nil.
func Compute(in Inputs) audit.ScoreSet {
	set := audit.ScoreSet{
		SEO:    FromPageSpeed(in.PageSpeed),
		Social: in.Social,
	}
	if in.Serp != nil {
		set.Rank = FromSerpRank(in.Serp.Rank)
	}
	if in.OpenPageRank != nil {
		set.DomainRank = FromOpenPageRank(in.OpenPageRank.Rank)
	}
	if set.Social != nil {
		social := Clamp(float64(*set.Social))
		set.Social = &social
	}

	var sum, weights float64
	for _, c := range []struct {
		v *int
		w float64
	}{
		{set.SEO, weightSEO},
		{set.Rank, weightRank},
		{set.DomainRank, weightDomainRank},
	} {
		if c.v == nil {
			continue
		}
		sum += float64(*c.v) * c.w
		weights += c.w
	}
	if weights > 0 {
		overall := Clamp(sum / weights)
		set.Overall = &overall
	}
	return set
}
