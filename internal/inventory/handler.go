package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler exposes read-only availability lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/warehouses/{warehouseID}/availability", h.handleAvailability)
}

// handleAvailability serves GET /warehouses/{warehouseID}/availability?item_ids=1,2,3.
func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validation("warehouse_id", "must be an integer"))
		return
	}
	var itemIDs []int64
	for _, raw := range strings.Split(r.URL.Query().Get("item_ids"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Validation("item_ids", "%q is not an integer", raw))
			return
		}
		itemIDs = append(itemIDs, id)
	}

	result, err := h.service.GetAvailableBatchShared(r.Context(), warehouseID, itemIDs)
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) {
			httpx.RespondError(w, shared.Validation("item_ids", "%s", err.Error()))
			return
		}
		h.logger.Error("availability lookup", slog.Int64("warehouse_id", warehouseID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]Availability, 0, len(result))
	for _, id := range uniqueIDs(itemIDs) {
		out = append(out, Availability{WarehouseID: warehouseID, ItemID: id, Available: result[id]})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}
