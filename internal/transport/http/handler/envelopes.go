package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/recallbot/internal/application/pipeline"
	"github.com/recallbot/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// RunErrorEnvelope reports a failed run: which stage failed and why.
type RunErrorEnvelope struct {
	Error string       `json:"error"`
	RunID string       `json:"run_id,omitempty"`
	Stage domain.Stage `json:"stage,omitempty"`
}

// PageEnvelope wraps cursor-paginated list responses. Next is empty on the
// last page.
type PageEnvelope[T any] struct {
	Data []T    `json:"data"`
	Next string `json:"next,omitempty"`
}

// RunEnvelope wraps pipeline results.
type RunEnvelope struct {
	Message string           `json:"message,omitempty"`
	Result  *pipeline.Result `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// httpError maps domain and pipeline errors onto HTTP status codes.
func httpError(w http.ResponseWriter, err error) {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		writeJSON(w, stageStatus(se), RunErrorEnvelope{Error: se.Err.Error(), RunID: se.RunID, Stage: se.Stage})
		return
	}
	writeError(w, errorStatus(err), err.Error())
}

func stageStatus(se *pipeline.StageError) int {
	var (
		ce *pipeline.ConfigurationError
		fe *pipeline.FetchError
		pe *pipeline.PublishError
		st *pipeline.StoreError
	)
	switch {
	case errors.As(se, &ce):
		return http.StatusUnprocessableEntity
	case errors.As(se, &fe), errors.As(se, &pe):
		return http.StatusBadGateway
	case errors.As(se, &st):
		return http.StatusServiceUnavailable
	case errors.Is(se, context.Canceled) || errors.Is(se, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return errorStatus(se.Err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
