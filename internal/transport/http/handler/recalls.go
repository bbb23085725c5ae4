package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/recallbot/internal/application/recall"
	"github.com/recallbot/internal/domain"
)

// RecallHandler serves the read side: recalls, posts and sources.
type RecallHandler struct {
	svc recall.Service
}

func NewRecallHandler(svc recall.Service) *RecallHandler { return &RecallHandler{svc: svc} }

func (h *RecallHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	recalls, next, err := h.svc.ListRecalls(r.Context(), domain.RecallQuery{
		Limit:  limit,
		Cursor: q.Get("cursor"),
		Search: q.Get("search"),
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PageEnvelope[domain.Recall]{Data: recalls, Next: next})
}

func (h *RecallHandler) Get(w http.ResponseWriter, r *http.Request) {
	rc, err := h.svc.GetRecall(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (h *RecallHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	posts, next, err := h.svc.ListPosts(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PageEnvelope[domain.Post]{Data: posts, Next: next})
}

func (h *RecallHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.svc.ListSources(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}
