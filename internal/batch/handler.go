package batch

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gearledger/gearledger/internal/platform/httpx"
	"github.com/gearledger/gearledger/internal/shared"
	"github.com/gearledger/gearledger/jobs"
)

// Handler wires HTTP endpoints for the batch module. Processing is
// dispatched to the worker through asynq; the API never blocks on a run.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	jobs     *jobs.Client
	validate *validator.Validate
}

// NewHandler constructs batch handler.
func NewHandler(logger *slog.Logger, service *Service, jobsClient *jobs.Client) *Handler {
	return &Handler{logger: logger, service: service, jobs: jobsClient, validate: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.create)
	r.Post("/batches/{id}/process", h.process)
	r.Get("/batches/{id}", h.status)
	r.Post("/batches/{id}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input.IssuerID = actor.ID
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	b, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("batch create", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		MaxConcurrent int `json:"max_concurrent_items"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if _, err := h.jobs.EnqueueBatchProcess(r.Context(), jobs.BatchProcessPayload{
		BatchID:            id,
		MaxConcurrentItems: body.MaxConcurrent,
	}); err != nil {
		h.logger.Error("batch enqueue", slog.Any("error", err), slog.Int64("batch_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"batch_id": id, "status": StatusProcessing})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	b, progress, err := h.service.Status(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batch": b, "progress": progress})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"batch_id": id, "cancel_requested": true})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return 0, false
	}
	return id, true
}
