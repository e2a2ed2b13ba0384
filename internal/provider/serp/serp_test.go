package serp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchFindsPosition(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "google", q.Get("engine"))
		require.Equal(t, "running shoes", q.Get("q"))
		require.Equal(t, "50", q.Get("num"))
		require.Equal(t, "serp-key", q.Get("api_key"))
		_, _ = w.Write([]byte(`{"organic_results":[
			{"link":"https://other.com/a","displayed_link":"other.com"},
			{"link":"https://shop.net/b","displayed_link":"https://WWW.Example.com › shoes"},
			{"link":"https://example.com/c","displayed_link":"example.com"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "serp-key", BaseURL: srv.URL}, WithHTTPClient(srv.Client()))
	res := c.Fetch(context.Background(), "running shoes", "example.com")

	require.True(t, res.OK)
	require.Equal(t, 2, *res.Normalized.Rank)
	require.Equal(t, "running shoes", res.Normalized.Keyword)
	require.Equal(t, "example.com", res.Normalized.Domain)
}

func TestFetchNotFoundIsSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"organic_results":[{"link":"https://other.com"}]}`))
	}))
	t.Cleanup(srv.Close)

	res := New(Config{APIKey: "k", BaseURL: srv.URL}).Fetch(context.Background(), "kw", "example.com")
	require.True(t, res.OK)
	require.Nil(t, res.Normalized.Rank)
}

func TestPositionScansOnlyTopResults(t *testing.T) {
	t.Parallel()

	results := make([]organicResult, 0, 60)
	for i := 0; i < 55; i++ {
		results = append(results, organicResult{Link: fmt.Sprintf("https://site%d.org", i)})
	}
	results = append(results, organicResult{Link: "https://example.com"})
	require.Nil(t, position(results, "example.com"))

	results[49] = organicResult{Link: "http://www.EXAMPLE.com/page"}
	require.Equal(t, 50, *position(results, "https://example.com"))
	require.Nil(t, position(results, ""))
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	res := New(Config{}).Fetch(context.Background(), "kw", "example.com")
	require.False(t, res.OK)
	require.Equal(t, "SERPAPI_KEY not set", res.Error)

	res = New(Config{APIKey: "k"}).Fetch(context.Background(), "", "example.com")
	require.False(t, res.OK)
	require.Equal(t, "keyword and domain required", res.Error)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("{", 3)))
	}))
	t.Cleanup(srv.Close)
	res = New(Config{APIKey: "k", BaseURL: srv.URL}).Fetch(context.Background(), "kw", "example.com")
	require.False(t, res.OK)
	require.Contains(t, res.Error, "decode response")
}
