// Package audithttp exposes the audit timeline over HTTP.
package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/audit"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler serves GET /audit/timeline.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *audit.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit/timeline", h.timeline)
}

// timeline supports ?entity=delivery_note&entity_id=12&actor_id=3&action=receive&from=RFC3339&to=RFC3339&page=1&page_size=20.
func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	var err error
	if filters.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return filters, err
	}
	if filters.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return filters, err
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && !filters.From.Before(filters.To) {
		return filters, shared.Validation("to", "must be after from")
	}
	if filters.ActorID, err = parsePositive(q.Get("actor_id"), "actor_id"); err != nil {
		return filters, err
	}
	page, err := parsePositive(q.Get("page"), "page")
	if err != nil {
		return filters, err
	}
	size, err := parsePositive(q.Get("page_size"), "page_size")
	if err != nil {
		return filters, err
	}
	filters.Page, filters.PageSize = int(page), int(size)
	return filters, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, shared.Validation(field, "must be an RFC3339 timestamp")
	}
	return t, nil
}

func parsePositive(raw, field string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, shared.Validation(field, "must be a positive integer")
	}
	return v, nil
}
