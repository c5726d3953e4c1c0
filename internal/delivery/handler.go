package delivery

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler manages delivery note and pick list endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: httpx.NewValidator(),
	}
}

// MountRoutes registers delivery note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/delivery-notes", func(r chi.Router) {
		r.Get("/", h.listDeliveryNotes)
		r.Post("/", h.createDeliveryNote)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getDeliveryNote)
			r.Post("/confirm", h.confirmDeliveryNote)
			r.Get("/pick-lists", h.listPickLists)
			r.Post("/pick-lists", h.queuePicking)
			r.Post("/dispatch", h.dispatchDeliveryNote)
			r.Post("/receive", h.receiveDeliveryNote)
			r.Post("/void", h.voidDeliveryNote)
		})
	})

	r.Route("/pick-lists/{id}", func(r chi.Router) {
		r.Post("/start", h.startPickList)
		r.Post("/picks", h.recordPicks)
		r.Post("/complete", h.completePickList)
		r.Post("/cancel", h.cancelPickList)
	})
}

// ============================================================================
// DELIVERY NOTES
// ============================================================================

func (h *Handler) listDeliveryNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filters ListFilters
	if v := q.Get("status"); v != "" {
		st := Status(v)
		filters.Status = &st
	}
	var err error
	if filters.RequestingWarehouseID, err = optionalID(q.Get("requesting_warehouse_id"), "requesting_warehouse_id"); err != nil {
		h.respondError(w, r, err)
		return
	}
	if filters.FulfillingWarehouseID, err = optionalID(q.Get("fulfilling_warehouse_id"), "fulfilling_warehouse_id"); err != nil {
		h.respondError(w, r, err)
		return
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	notes, page, err := h.service.ListDeliveryNotes(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": notes, "pagination": page})
}

func (h *Handler) getDeliveryNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	dn, err := h.service.GetDeliveryNote(r.Context(), id)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) createDeliveryNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input CreateInput
	if err := httpx.Bind(r, h.validator, &input, false); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.CreateDeliveryNote(r.Context(), input, actor)
	h.respond(w, r, http.StatusCreated, dn, err)
}

func (h *Handler) confirmDeliveryNote(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	dn, err := h.service.ConfirmDeliveryNote(r.Context(), id, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) queuePicking(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input QueuePickingInput
	if err := httpx.Bind(r, h.validator, &input, false); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.QueuePicking(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusCreated, dn, err)
}

func (h *Handler) listPickLists(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	lists, err := h.service.ListPickLists(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lists})
}

func (h *Handler) dispatchDeliveryNote(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input DispatchInput
	if err := httpx.Bind(r, h.validator, &input, true); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.DispatchDeliveryNote(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) receiveDeliveryNote(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input ReceiveInput
	if err := httpx.Bind(r, h.validator, &input, true); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.ReceiveDeliveryNote(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) voidDeliveryNote(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input ReasonInput
	if err := httpx.Bind(r, h.validator, &input, true); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.VoidDeliveryNote(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

// ============================================================================
// PICK LISTS
// ============================================================================

func (h *Handler) startPickList(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	dn, err := h.service.StartPickList(r.Context(), id, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) recordPicks(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input PickInput
	if err := httpx.Bind(r, h.validator, &input, false); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.RecordPicks(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) completePickList(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input PickInput
	if err := httpx.Bind(r, h.validator, &input, true); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.CompletePickList(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

func (h *Handler) cancelPickList(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.idAndActor(w, r)
	if !ok {
		return
	}
	var input ReasonInput
	if err := httpx.Bind(r, h.validator, &input, true); err != nil {
		h.respondError(w, r, err)
		return
	}
	dn, err := h.service.CancelPickList(r.Context(), id, input, actor)
	h.respond(w, r, http.StatusOK, dn, err)
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, dn DeliveryNote, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, status, dn)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if !isDomainError(err) {
		h.logger.Error("delivery request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validation("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.UserID <= 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting user is required")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) idAndActor(w http.ResponseWriter, r *http.Request) (int64, shared.Actor, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return 0, shared.Actor{}, false
	}
	id, ok := h.pathID(w, r)
	return id, actor, ok
}

func optionalID(raw, field string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, shared.Validation(field, "must be a positive integer")
	}
	return &id, nil
}
