package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquee-ops/inventory-engine/internal/stock"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Recorder, *stock.MemoryStore) {
	t.Helper()
	store := stock.NewMemoryStore(nil)
	log := NewMemoryLog()
	recorder := NewRecorder(store, log, nil, nil)
	r := chi.NewRouter()
	NewHandler(slog.Default(), log, recorder).MountRoutes(r)
	return r, recorder, store
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEntriesEndpointPaginates(t *testing.T) {
	r, recorder, _ := newTestRouter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := recorder.Post(ctx, Movement{
			SKUID:            "COLA",
			LocationID:       "STORE-A",
			Type:             TypeAdjustmentIncrease,
			OnHandDelta:      10,
			SourceType:       SourceAdjustmentOrder,
			SourceDocumentID: "ADJ-1",
			OperatorID:       "op-1",
		})
		require.NoError(t, err)
	}

	rec := get(t, r, "/ledger/COLA/STORE-A?page=2&perPage=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries    []entryPayload `json:"entries"`
		Pagination map[string]int `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, int64(3), body.Entries[0].Seq)
	assert.Equal(t, 5, body.Pagination["total"])
	assert.Equal(t, 3, body.Pagination["totalPages"])
}

func TestEntriesEndpointRejectsBadTimeBound(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec := get(t, r, "/ledger/COLA/STORE-A?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpointConsistent(t *testing.T) {
	r, recorder, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := recorder.Post(ctx, Movement{
		SKUID:            "COLA",
		LocationID:       "STORE-A",
		Type:             TypeAdjustmentIncrease,
		OnHandDelta:      100,
		SourceType:       SourceAdjustmentOrder,
		SourceDocumentID: "ADJ-1",
		OperatorID:       "op-1",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/COLA/STORE-A/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["consistent"])
}

func TestVerifyEndpointMismatch(t *testing.T) {
	r, _, store := newTestRouter(t)
	ctx := context.Background()

	// Drift the live record with no matching ledger entry.
	_, err := store.ApplyDelta(ctx, stock.Key{SKUID: "COLA", LocationID: "STORE-A"}, 0,
		stock.Delta{Field: stock.FieldOnHand, Qty: 7})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/COLA/STORE-A/verify", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["consistent"])
}

