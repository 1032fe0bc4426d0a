package issuance

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gearledger/gearledger/internal/platform/httpx"
	"github.com/gearledger/gearledger/internal/shared"
)

// Handler wires HTTP endpoints for the issuance module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs issuance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers issuance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/issuances", h.listMine)
	r.Post("/issuances", h.issue)
	r.Get("/issuances/{id}", h.get)
	r.Post("/issuances/{id}/confirm", h.confirm)
	r.Post("/issuances/{id}/return", h.returnUnits)
	r.Post("/issuances/{id}/report", h.report)
	r.Post("/issuances/{id}/confirm-return", h.confirmDownstream)
	r.Post("/issuances/{id}/resolve", h.resolve)
	r.Get("/reconciliation/{holderID}/items/{itemID}", h.reconcile)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	var input IssueInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input.IssuerID = actor.ID
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, _, err := h.service.Issue(r.Context(), input)
	if err != nil {
		h.logger.Error("issuance issue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	records, err := h.service.ListForActor(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("issuance list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	rec, _, err := h.service.ConfirmReceived(r.Context(), actor.ID, id, body.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) returnUnits(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var input ReturnInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input.RecordID = id
	input.ActorID = actor.ID
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, _, err := h.service.ReturnUnits(r.Context(), input)
	if err != nil {
		h.logger.Error("issuance return", slog.Any("error", err), slog.Int64("record_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var input ReportInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input.RecordID = id
	input.ActorID = actor.ID
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, _, err := h.service.ReportIncident(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) confirmDownstream(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, _, err := h.service.ConfirmDownstreamReturn(r.Context(), actor.ID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Outcome Status `json:"outcome" validate:"required,oneof=replaced disposed"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, _, err := h.service.ResolveIncident(r.Context(), id, body.Outcome)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	holderID, ok := pathID(w, r, "holderID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	report, err := h.service.ReconcileReport(r.Context(), holderID, itemID)
	if err != nil {
		h.logger.Error("issuance reconcile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+key)
		return 0, false
	}
	return id, true
}
