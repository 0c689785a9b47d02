package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	prov, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func TestWrapHandler_NilProvidersPassThrough(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := WrapHandler(h, nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRecordersSafeBeforeInit(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordVendorRequest(ctx, "tiktok_ads", "success")
		RecordBreakerState(ctx, "tiktok_ads", 0)
		_, span := StartClientSyncSpan(ctx, ClientSyncSpanInfo{Platform: "tiktok_ads", ClientID: "c1"})
		span.End()
	})
}

func TestInit_ExposesSyncMetrics(t *testing.T) {
	ctx := context.Background()
	prov, err := Init(ctx, Config{Enabled: true, ServiceName: "ad-metrics-sync-test", Environment: "test"})
	require.NoError(t, err)
	require.NotNil(t, prov)
	t.Cleanup(func() { _ = prov.Shutdown(context.Background()) })

	require.NotNil(t, prov.MetricsHandler)
	require.NotNil(t, prov.TracerProvider)

	spanCtx, span := StartClientSyncSpan(ctx, ClientSyncSpanInfo{
		Platform:  "meta_ads",
		ClientID:  "ab12cd34",
		AccountID: "act_42",
		Trigger:   "manual",
	})
	assert.True(t, span.SpanContext().IsValid())
	RecordClientSync(spanCtx, ClientSyncMetrics{
		Platform: "meta_ads",
		Status:   "success",
		Rows:     12,
		Duration: 250 * time.Millisecond,
	})
	span.End()
	RecordVendorRequest(ctx, "meta_ads", "success")

	rec := httptest.NewRecorder()
	prov.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "adsync_client")
	assert.Contains(t, string(body), `sync_platform="meta_ads"`)
	assert.Contains(t, string(body), "adsync_vendor_requests")
}

func TestGetOTLPEndpointOption(t *testing.T) {
	assert.NotNil(t, getOTLPEndpointOption("https://otel.example.com/v1/traces"))
	assert.NotNil(t, getOTLPEndpointOption("otel.example.com:4318"))
}
