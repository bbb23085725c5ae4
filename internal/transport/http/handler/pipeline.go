package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/recallbot/internal/application/pipeline"
	"github.com/recallbot/internal/pkg/validate"
)

const noNewRecalls = "No new recalls found"

// SourceRequest names the source to run.
type SourceRequest struct {
	Source string `json:"source" validate:"required"`
}

// IDsRequest lists recall ids to publish.
type IDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// PipelineHandler exposes the operator triggers of the pipeline.
type PipelineHandler struct {
	svc pipeline.Service
}

func NewPipelineHandler(svc pipeline.Service) *PipelineHandler { return &PipelineHandler{svc: svc} }

// Ingest runs fetch through select-unpublished for one source.
func (h *PipelineHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Ingest(r.Context(), req.Source)
	if err != nil {
		httpError(w, err)
		return
	}
	if len(res.Recalls) == 0 {
		writeJSON(w, http.StatusOK, RunEnvelope{Message: noNewRecalls, Result: res})
		return
	}
	writeJSON(w, http.StatusCreated, RunEnvelope{Result: res})
}

// Publish runs select-unpublished through persist for the given ids.
func (h *PipelineHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Publish(r.Context(), req.IDs)
	if err != nil {
		httpError(w, err)
		return
	}
	if res.NoOp {
		writeJSON(w, http.StatusOK, RunEnvelope{Message: "Nothing to publish", Result: res})
		return
	}
	writeJSON(w, http.StatusCreated, RunEnvelope{Result: res})
}

// Run executes the full pipeline for one source.
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Run(r.Context(), req.Source, pipeline.TriggerManual)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, runStatus(res), RunEnvelope{Result: res})
}

func (h *PipelineHandler) Resume(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, runStatus(res), RunEnvelope{Result: res})
}

func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *PipelineHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Reconcile(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ReleaseIntent frees a held intent so its recall can be published again.
func (h *PipelineHandler) ReleaseIntent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReleaseIntent(r.Context(), chi.URLParam(r, "recall_id")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "intent released"})
}

func runStatus(res *pipeline.Result) int {
	if res.NoOp {
		return http.StatusOK
	}
	return http.StatusCreated
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}
