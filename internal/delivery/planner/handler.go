package planner

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler exposes allocation planning endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the planner handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers planner routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/allocation-plans", func(r chi.Router) {
		r.Post("/", h.plan)
		r.Get("/{sessionID}", h.get)
		r.Post("/{sessionID}/submit", h.submit)
	})
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.UserID <= 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting user is required")
		return
	}
	var input PlanInput
	if err := httpx.Bind(r, h.validator, &input, true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	// The acting business unit plans for its own requests unless told otherwise.
	if input.BusinessUnitID == 0 {
		input.BusinessUnitID = actor.BusinessUnitID
	}
	plan, err := h.service.Plan(r.Context(), input.BusinessUnitID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.UserID <= 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting user is required")
		return
	}
	var input SubmitInput
	if err := httpx.Bind(r, h.validator, &input, false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dn, err := h.service.Submit(r.Context(), chi.URLParam(r, "sessionID"), input, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dn)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !isRejection(err) {
		h.logger.Error("planner request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isRejection(err error) bool {
	return errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrInvalidState) ||
		errors.Is(err, shared.ErrConflict) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrForbidden)
}
