package expiry

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gearledger/gearledger/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the expiry module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs expiry handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers expiry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/tracking", h.create)
	r.Post("/tracking/auto", h.autoCreate)
	r.Get("/tracking/{id}", h.get)
	r.Get("/items/{itemID}/tracking", h.listByItem)
	r.Post("/tracking/{id}/expire", h.markExpired)
	r.Post("/tracking/{id}/replace", h.replace)
	r.Post("/tracking/{id}/dispose", h.dispose)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("expiry create", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) autoCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID            int64     `json:"item_id" validate:"required,gt=0"`
		ManufacturingDate time.Time `json:"manufacturing_date" validate:"required"`
		BatchNumber       string    `json:"batch_number,omitempty" validate:"max=64"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.AutoCreateTracking(r.Context(), body.ItemID, body.ManufacturingDate, body.BatchNumber)
	if err != nil {
		h.logger.Error("expiry auto create", slog.Any("error", err), slog.Int64("item_id", body.ItemID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"created": len(created), "records": created})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listByItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	records, err := h.service.ListByItem(r.Context(), itemID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) markExpired(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.service.MarkExpired(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	old, fresh, _, err := h.service.Replace(r.Context(), id, input)
	if err != nil {
		h.logger.Error("expiry replace", slog.Any("error", err), slog.Int64("record_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"replaced": old, "replacement": fresh})
}

func (h *Handler) dispose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var input DisposeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, _, err := h.service.Dispose(r.Context(), id, input)
	if err != nil {
		h.logger.Error("expiry dispose", slog.Any("error", err), slog.Int64("record_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+key)
		return 0, false
	}
	return id, true
}
