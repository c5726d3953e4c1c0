package planner

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

func plannerRouter(f *plannerFixture, actor shared.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	return r
}

func TestHandlerPlanAndSubmit(t *testing.T) {
	f := newPlannerFixture(t, defaultLines())
	h := plannerRouter(f, shared.Actor{UserID: 3, BusinessUnitID: 1})

	req := httptest.NewRequest(http.MethodPost, "/allocation-plans", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var plan Plan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &plan))
	assert.Equal(t, int64(1), plan.BusinessUnitID)
	assert.True(t, plan.Loaded)

	req = httptest.NewRequest(http.MethodPost, "/allocation-plans/"+plan.SessionID+"/submit",
		strings.NewReader(`{"selections":[{"stock_request_item_id":501,"qty":"61"}]}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/allocation-plans/"+plan.SessionID+"/submit",
		strings.NewReader(`{"selections":[{"stock_request_item_id":501,"qty":"60"}]}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, f.creator.inputs, 1)
}

func TestHandlerUnknownSession(t *testing.T) {
	f := newPlannerFixture(t, nil)
	h := plannerRouter(f, shared.Actor{UserID: 3, BusinessUnitID: 1})

	req := httptest.NewRequest(http.MethodGet, "/allocation-plans/does-not-exist", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "stale")
}
