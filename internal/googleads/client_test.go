package googleads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/apiclient"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamResponse = `[
  {
    "results": [
      {
        "campaign": {"resourceName": "customers/1234567890/campaigns/11", "id": "11", "name": "Brand", "status": "ENABLED"},
        "adGroup": {"resourceName": "customers/1234567890/adGroups/22", "id": "22", "name": "Exact"},
        "metrics": {"impressions": "2000", "clicks": "50", "costMicros": "25000000", "conversions": 4, "conversionsValue": 100.5},
        "segments": {"date": "2026-10-18"}
      }
    ],
    "fieldMask": "campaign.id,campaign.name"
  },
  {
    "results": [
      {
        "campaign": {"id": "11", "name": "Brand", "status": "PAUSED"},
        "adGroup": {"id": "23", "name": "Broad"},
        "metrics": {"impressions": "0", "clicks": "0", "costMicros": "0"},
        "segments": {"date": "2026-10-17"}
      }
    ]
  }
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(context.Background(), config.GoogleAds{
		DeveloperToken:  "dev-token",
		LoginCustomerID: "999-888-7777",
		APIVersion:      "v21",
		BaseURL:         server.URL,
	}, Options{HTTPClient: server.Client()})
	require.NoError(t, err)
	return client
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), config.GoogleAds{}, Options{})
	assert.Error(t, err)

	_, err = New(context.Background(), config.GoogleAds{DeveloperToken: "x"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAuth")
}

func TestCleanCustomerID(t *testing.T) {
	assert.Equal(t, "1234567890", CleanCustomerID("123-456-7890"))
	assert.Equal(t, "1234567890", CleanCustomerID(" 1234567890 "))
}

func TestSource_Fetch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21/customers/1234567890/googleAds:searchStream", r.URL.Path)
		assert.Equal(t, "dev-token", r.Header.Get("developer-token"))
		assert.Equal(t, "9998887777", r.Header.Get("login-customer-id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["query"], "BETWEEN '2026-09-18' AND '2026-10-18'")
		assert.Contains(t, body["query"], "campaign.status != 'REMOVED'")

		w.Write([]byte(streamResponse))
	})

	src := NewSource(client)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	rows, err := src.Fetch(context.Background(),
		adsync.Account{ClientID: "c1", ClientName: "Acme", AccountID: "123-456-7890"},
		adsync.Trailing(now, 30, 0))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "2026-10-18", first["date"])
	assert.Equal(t, "123-456-7890", first["customer_id"])
	assert.Equal(t, "Acme", first["customer_name"])
	assert.Equal(t, "ENABLED", first["campaign_status"])
	assert.Equal(t, int64(2000), first["impressions"])
	assert.Equal(t, 25.0, first["cost"])
	assert.Equal(t, 2.5, first["ctr"])
	assert.Equal(t, 0.5, first["cpc"])
	assert.Equal(t, 12.5, first["cpm"])
	assert.Equal(t, 6.25, first["cpa"])
	assert.Equal(t, 4.02, first["roas"])

	zero := rows[1]
	assert.Equal(t, 0.0, zero["ctr"])
	assert.Equal(t, 0.0, zero["roas"])

	for _, row := range rows {
		assert.NoError(t, warehouse.Validate(warehouse.GoogleAdsPerformance, row))
	}
}

func TestSearchStream_StreamedError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`[{"error":{"code":400,"message":"Request contains an invalid argument.","status":"INVALID_ARGUMENT"}}]`))
	})

	_, err := client.SearchStream(context.Background(), "1234567890", "SELECT campaign.id FROM campaign")
	require.Error(t, err)

	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Code)
	assert.Equal(t, "Request contains an invalid argument.", apiErr.Message)
}

func TestTestConnection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/customers:listAccessibleCustomers"))
		w.Write([]byte(`{"resourceNames": ["customers/1234567890", "customers/5555555555"]}`))
	})

	status, err := client.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connected", status.Status)
	assert.Equal(t, "customers/9998887777", status.MCC)
	assert.Len(t, status.AccessibleCustomers, 2)
}
