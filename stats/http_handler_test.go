package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandler(t *testing.T) {
	collector, sink := setupCollector(t)
	collector.Record(protocol.PaymentSuccess(12))
	collector.Record(protocol.TxFailure(protocol.EntityBank, "bank rejected transaction 4"))

	var mux = http.NewServeMux()
	NewHTTPHandler(collector, sink).RegisterHandlers(mux)

	t.Run("summary", func(t *testing.T) {
		var rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var summary Summary
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
		require.Equal(t, uint32(1), summary.Payments)
		require.Equal(t, uint32(12), summary.AverageMs)
		require.Equal(t, map[string]uint32{"bank": 1}, summary.EntityFailure)
	})

	t.Run("summary wrong method", func(t *testing.T) {
		var rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/summary", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		var rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "alglobo.payments.processed")
	})

	t.Run("health", func(t *testing.T) {
		var rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
