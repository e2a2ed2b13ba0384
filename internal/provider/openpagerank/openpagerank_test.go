package openpagerank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchReadsFirstResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "opr-key", r.Header.Get("API-OPR"))
		require.Equal(t, "example.com", r.URL.Query().Get("domains[]"))
		_, _ = w.Write([]byte(`{"status_code":200,"response":[{"status_code":200,"page_rank_decimal":4.55,"rank":"1234","domain":"example.com"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "opr-key", BaseURL: srv.URL}, WithHTTPClient(srv.Client()))
	res := c.Fetch(context.Background(), "https://www.example.com/pricing")

	require.True(t, res.OK)
	require.Equal(t, "example.com", *res.Normalized.Domain)
	require.InDelta(t, 4.55, *res.Normalized.Rank, 0.0001)
	require.NotEmpty(t, res.Raw)
}

func TestFetchEmptyResponseKeepsInputDomain(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":[]}`))
	}))
	t.Cleanup(srv.Close)

	res := New(Config{APIKey: "k", BaseURL: srv.URL}).Fetch(context.Background(), "www.example.org/x")
	require.True(t, res.OK)
	require.Equal(t, "example.org", *res.Normalized.Domain)
	require.Nil(t, res.Normalized.Rank)
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	res := New(Config{}).Fetch(context.Background(), "example.com")
	require.False(t, res.OK)
	require.Equal(t, "OPEN_PAGERANK_API_KEY not set", res.Error)

	res = New(Config{APIKey: "k"}).Fetch(context.Background(), "")
	require.False(t, res.OK)
	require.Equal(t, "domain or url required", res.Error)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	res = New(Config{APIKey: "k", BaseURL: srv.URL}).Fetch(context.Background(), "example.com")
	require.False(t, res.OK)
	require.Contains(t, res.Error, "401")
}
