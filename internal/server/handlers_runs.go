package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/service/journey"
)

// maxAbandonReasonLen bounds the free-text abandonment reason.
const maxAbandonReasonLen = 500

// HandleStartRun handles POST /v1/recorridos/{recorrido_id}/start.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	recorridoID := r.PathValue("recorrido_id")
	if err := model.ValidateRecorridoID(recorridoID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	res, err := h.journeys.StartRun(r.Context(), requestContext(r), recorridoID)
	if err != nil {
		h.writeJourneyError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, model.StartRunResponse{RunID: res.RunID.String(), Step: &res.Step})
}

// HandleActiveRun handles GET /v1/recorridos/{recorrido_id}/active-run.
func (h *Handlers) HandleActiveRun(w http.ResponseWriter, r *http.Request) {
	recorridoID := r.PathValue("recorrido_id")
	if err := model.ValidateRecorridoID(recorridoID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, err := h.journeys.ActiveRun(r.Context(), requestContext(r), recorridoID)
	if err != nil {
		h.writeJourneyError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ActiveRunResponse{Run: &run})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run_id")
		return
	}

	res, err := h.journeys.GetCurrentStep(r.Context(), requestContext(r), runID)
	if err != nil {
		h.writeJourneyError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.RunStepResponse{Run: &res.Run, Step: res.Step})
}

// HandleSubmitStep handles POST /v1/runs/{run_id}/steps/{step_id}/submit.
// An empty body submits an empty input.
func (h *Handlers) HandleSubmitStep(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run_id")
		return
	}
	stepID := r.PathValue("step_id")
	if stepID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "step_id is required")
		return
	}

	var req model.SubmitStepRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, errEmptyBody) {
		handleDecodeError(w, r, err)
		return
	}
	if req.Input == nil {
		req.Input = model.Object{}
	}

	res, err := h.journeys.SubmitStep(r.Context(), requestContext(r), runID, stepID, req.Input)
	if err != nil {
		h.writeJourneyError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.RunStepResponse{Run: &res.Run, Step: res.Step})
}

// HandleAbandonRun handles POST /v1/runs/{run_id}/abandon.
func (h *Handlers) HandleAbandonRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run_id")
		return
	}

	var req model.AbandonRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, errEmptyBody) {
		handleDecodeError(w, r, err)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxAbandonReasonLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "reason is too long")
		return
	}

	res, err := h.journeys.AbandonRun(r.Context(), requestContext(r), runID, req.Reason)
	if err != nil {
		h.writeJourneyError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// journeyErrors maps journey failures to HTTP status and error code.
var journeyErrors = []struct {
	err    error
	status int
	code   string
}{
	{journey.ErrInvalidContext, http.StatusBadRequest, model.ErrCodeInvalidInput},
	{journey.ErrInvalidInput, http.StatusBadRequest, model.ErrCodeInvalidInput},
	{journey.ErrUnauthorized, http.StatusForbidden, model.ErrCodeForbidden},
	{journey.ErrNoPublishedVersion, http.StatusNotFound, model.ErrCodeNotFound},
	{journey.ErrRunNotFound, http.StatusNotFound, model.ErrCodeNotFound},
	{journey.ErrStepNotFound, http.StatusNotFound, model.ErrCodeNotFound},
	{journey.ErrVersionNotFound, http.StatusNotFound, model.ErrCodeNotFound},
	{journey.ErrRunNotActive, http.StatusConflict, model.ErrCodeConflict},
	{journey.ErrStepMismatch, http.StatusConflict, model.ErrCodeConflict},
	{journey.ErrConcurrentUpdate, http.StatusConflict, model.ErrCodeConflict},
	{journey.ErrVersionNotPublished, http.StatusConflict, model.ErrCodeConflict},
}

// writeJourneyError writes the response for a journey.Service error. Unknown
// errors and invalid definitions are logged and reported as 500.
func (h *Handlers) writeJourneyError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range journeyErrors {
		if errors.Is(err, m.err) {
			msg := err.Error()
			if m.err == journey.ErrUnauthorized {
				msg = "run belongs to another user"
			}
			writeError(w, r, m.status, m.code, strings.TrimPrefix(msg, "journey: "))
			return
		}
	}
	h.writeInternalError(w, r, "journey operation failed", err)
}
