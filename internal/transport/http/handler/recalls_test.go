package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/recallbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListRecalls_PassesQuery(t *testing.T) {
	svc := &mockRecallSvc{}
	q := domain.RecallQuery{Limit: 2, Cursor: "abc", Search: "peanut"}
	svc.On("ListRecalls", mock.Anything, q).Return([]domain.Recall{{RecallID: "a"}, {RecallID: "b"}}, "next1", nil)
	h := NewRecallHandler(svc)

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/v1/recalls?limit=2&cursor=abc&search=peanut", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp PageEnvelope[domain.Recall]
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, "next1", resp.Next)
	svc.AssertExpectations(t)
}

func TestListRecalls_BadLimit(t *testing.T) {
	h := NewRecallHandler(&mockRecallSvc{})
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/v1/recalls?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListRecalls_BadCursor(t *testing.T) {
	svc := &mockRecallSvc{}
	svc.On("ListRecalls", mock.Anything, mock.Anything).Return([]domain.Recall(nil), "", domain.ErrBadRequest)
	h := NewRecallHandler(svc)

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/v1/recalls?cursor=%25%25", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRecall(t *testing.T) {
	svc := &mockRecallSvc{}
	svc.On("GetRecall", mock.Anything, "a").Return(&domain.Recall{RecallID: "a", Company: "Acme"}, nil)
	svc.On("GetRecall", mock.Anything, "zz").Return(nil, domain.ErrNotFound)
	h := NewRecallHandler(svc)

	rr := httptest.NewRecorder()
	h.Get(rr, withParam(httptest.NewRequest(http.MethodGet, "/v1/recalls/a", nil), "id", "a"))
	assert.Equal(t, http.StatusOK, rr.Code)
	var got domain.Recall
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "Acme", got.Company)

	rr = httptest.NewRecorder()
	h.Get(rr, withParam(httptest.NewRequest(http.MethodGet, "/v1/recalls/zz", nil), "id", "zz"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListPosts(t *testing.T) {
	svc := &mockRecallSvc{}
	svc.On("ListPosts", mock.Anything, 0, "").Return([]domain.Post{{PostID: "p1"}}, "", nil)
	h := NewRecallHandler(svc)

	rr := httptest.NewRecorder()
	h.ListPosts(rr, httptest.NewRequest(http.MethodGet, "/v1/posts", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp PageEnvelope[domain.Post]
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Empty(t, resp.Next)
}

func TestListSources_StoreFailure(t *testing.T) {
	svc := &mockRecallSvc{}
	svc.On("ListSources", mock.Anything).Return([]domain.Source(nil), errors.New("boom"))
	h := NewRecallHandler(svc)

	rr := httptest.NewRecorder()
	h.ListSources(rr, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
