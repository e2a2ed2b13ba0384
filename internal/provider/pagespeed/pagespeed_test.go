package pagespeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const lighthouseBody = `{
  "lighthouseResult": {
    "categories": {"performance": {"score": 0.805}},
    "audits": {
      "first-contentful-paint": {"numericValue": 1200.5},
      "largest-contentful-paint": {"numericValue": 2500},
      "total-blocking-time": {"numericValue": 700},
      "cumulative-layout-shift": {"numericValue": 0.3}
    }
  }
}`

func TestFetchNormalizesLighthouse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "https://example.com", q.Get("url"))
		require.Equal(t, "mobile", q.Get("strategy"))
		require.Equal(t, "key-1", q.Get("key"))
		_, _ = w.Write([]byte(lighthouseBody))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "key-1", BaseURL: srv.URL}, WithHTTPClient(srv.Client()))
	res := c.Fetch(context.Background(), "https://example.com")

	require.True(t, res.OK)
	require.False(t, res.Fallback)
	require.NotEmpty(t, res.Raw)
	m := res.Normalized
	require.Equal(t, 81, *m.Performance)
	require.InDelta(t, 1200.5, *m.FCPMs, 0.001)
	require.InDelta(t, 2500, *m.LCPMs, 0.001)
	require.InDelta(t, 700, *m.TBTMs, 0.001)
	require.InDelta(t, 0.3, *m.CLS, 0.0001)
}

func TestFetchPartialDataIsValid(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"lighthouseResult":{"audits":{"total-blocking-time":{"numericValue":10}}}}`))
	}))
	t.Cleanup(srv.Close)

	res := New(Config{APIKey: "k", BaseURL: srv.URL}).Fetch(context.Background(), "https://example.com")
	require.True(t, res.OK)
	require.Nil(t, res.Normalized.Performance)
	require.Nil(t, res.Normalized.CLS)
	require.InDelta(t, 10, *res.Normalized.TBTMs, 0.001)
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	res := New(Config{APIKey: "k", BaseURL: srv.URL}).Fetch(context.Background(), "https://example.com")
	require.False(t, res.OK)
	require.Nil(t, res.Normalized)
	require.Contains(t, res.Error, "500")

	res = New(Config{BaseURL: srv.URL}).Fetch(context.Background(), "https://example.com")
	require.False(t, res.OK)
	require.Equal(t, "PAGESPEED_API_KEY not set", res.Error)

	res = New(Config{APIKey: "k"}).Fetch(context.Background(), "  ")
	require.False(t, res.OK)
	require.Equal(t, "url required", res.Error)
}
