package fallback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindPageSpeed, KindOpenPageRank, KindSerp, KindSocial} {
		require.Equal(t, Value(kind, "https://example.com"), Value(kind, "https://example.com"), kind)
	}
	require.Equal(t, Value(KindSocial, ""), Value(KindSocial, "default"))
}

func TestValueStaysInRange(t *testing.T) {
	t.Parallel()

	for kind, b := range ranges {
		for i := 0; i < 500; i++ {
			v := Value(kind, fmt.Sprintf("seed-%d", i))
			require.GreaterOrEqual(t, v, b.min, kind)
			require.LessOrEqual(t, v, b.max, kind)
		}
	}
	v := Value(Kind("unknown"), "x")
	require.GreaterOrEqual(t, v, 0)
	require.LessOrEqual(t, v, 100)
}

func TestEnvelopesAreMarkedFallback(t *testing.T) {
	t.Parallel()

	ps := PageSpeed("https://example.com")
	require.True(t, ps.OK)
	require.True(t, ps.Fallback)
	require.Nil(t, ps.Raw)
	require.NotNil(t, ps.Normalized.Performance)
	require.Nil(t, ps.Normalized.CLS)

	opr := OpenPageRank("https://www.example.com/about")
	require.True(t, opr.OK)
	require.True(t, opr.Fallback)
	require.Equal(t, "example.com", *opr.Normalized.Domain)
	require.InDelta(t, 3, *opr.Normalized.Rank, 5)

	serp := Serp("shoes", "example.com")
	require.True(t, serp.OK)
	require.True(t, serp.Fallback)
	require.Equal(t, Value(KindSerp, "shoes:example.com"), *serp.Normalized.Rank)
	require.Equal(t, "shoes", serp.Normalized.Keyword)
}
