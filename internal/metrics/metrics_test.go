package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, providerCallsTotal)
}

func TestObserveProviderCall(t *testing.T) {
	Init()
	before := testutil.ToFloat64(providerFallbacksTotal.WithLabelValues("serp"))
	ObserveProviderCall("serp", "fallback", 50*time.Millisecond)
	ObserveProviderCall("serp", "ok", 0)
	require.InDelta(t, before+1, testutil.ToFloat64(providerFallbacksTotal.WithLabelValues("serp")), 1e-9)
	require.GreaterOrEqual(t, testutil.ToFloat64(providerCallsTotal.WithLabelValues("serp", "ok")), 1.0)

	ObserveProviderRetry("pagespeed")
	require.GreaterOrEqual(t, testutil.ToFloat64(providerRetriesTotal.WithLabelValues("pagespeed")), 1.0)
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/audits/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audits/abc", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 1e-9)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
