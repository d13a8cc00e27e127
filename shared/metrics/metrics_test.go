package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	m, err := NewServer("127.0.0.1:0", "")
	require.NoError(t, err)
	assert.Equal(t, "/metrics", m.Endpoint)

	counter, err := m.Meter.Int64Counter("otaguard_test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "otaguard_test_events")

	require.NoError(t, m.Shutdown(context.Background()))
}
