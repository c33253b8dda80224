package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/platform"
)

func TestClient_QueryScalar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"0.015"]}]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	v, err := c.QueryScalar(t.Context(), "istio_requests_error_rate", nil, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 0.015, *v, 0.0001)
}

func TestClient_QueryScalar_NoResultReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	v, err := c.QueryScalar(t.Context(), "missing_metric", nil, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestClient_CheckActiveAlerts_FiltersByTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"alerts":[
			{"labels":{"alertname":"IstioHighErrorRate","cluster":"prod-a"},"state":"firing"},
			{"labels":{"alertname":"IstioHighErrorRate","cluster":"prod-b"},"state":"firing"},
			{"labels":{"alertname":"UnrelatedAlert","cluster":"prod-a"},"state":"pending"}
		]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	firing, err := c.CheckActiveAlerts(t.Context(), map[string]string{"cluster": "prod-a"})
	require.NoError(t, err)
	require.Len(t, firing, 1)
	assert.Equal(t, "IstioHighErrorRate", firing[0])
}

func TestComputeStatistics(t *testing.T) {
	now := time.Now()
	points := []platform.TimeseriesPoint{
		{Timestamp: now, Value: 10},
		{Timestamp: now, Value: 20},
		{Timestamp: now, Value: 30},
		{Timestamp: now, Value: 40},
	}

	stats := computeStatistics(points)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 40.0, stats.Max)
	assert.Equal(t, 25.0, stats.Avg)
	assert.Equal(t, 4, stats.Count)
}
