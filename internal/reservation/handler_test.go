package reservation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*chi.Mux, *fixture) {
	t.Helper()
	f := newFixture(t, time.Hour)
	handler := NewHandler(slog.Default(), f.manager)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, f
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReserveEndpoint(t *testing.T) {
	r, f := newTestRouter(t)
	f.seed(t, "COLA", "STORE-A", 100)

	rec := doJSON(t, r, http.MethodPost, "/reserve",
		`{"orderId":"ORDER-1","skuId":"COLA","locationId":"STORE-A","qty":30,"operatorId":"op-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ORDER-1", body["orderId"])
	assert.Equal(t, "HELD", body["status"])
}

func TestReserveEndpointValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/reserve", `{"orderId":"ORDER-1","skuId":"COLA"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Validation Failed", body["title"])
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "LocationID")
	assert.Contains(t, fields, "Qty")
}

func TestReserveEndpointInsufficientStock(t *testing.T) {
	r, f := newTestRouter(t)
	f.seed(t, "COLA", "STORE-A", 10)

	rec := doJSON(t, r, http.MethodPost, "/reserve",
		`{"orderId":"ORDER-1","skuId":"COLA","locationId":"STORE-A","qty":11,"operatorId":"op-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Insufficient Stock", body["title"])
}

func TestFulfillEndpointLifecycle(t *testing.T) {
	r, f := newTestRouter(t)
	f.seed(t, "COLA", "STORE-A", 100)

	rec := doJSON(t, r, http.MethodPost, "/reserve",
		`{"orderId":"ORDER-1","skuId":"COLA","locationId":"STORE-A","qty":30,"operatorId":"op-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/fulfill", `{"orderId":"ORDER-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["ledgerEntryId"])

	// Terminal reservations cannot be fulfilled twice.
	rec = doJSON(t, r, http.MethodPost, "/fulfill", `{"orderId":"ORDER-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReleaseEndpointUnknownOrder(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/release", `{"orderId":"ORDER-404"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
