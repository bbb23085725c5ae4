package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/recallbot/internal/application/pipeline"
	"github.com/recallbot/internal/domain"
	"github.com/stretchr/testify/mock"
)

// --- mocks ---

type mockPipeline struct{ mock.Mock }

func (m *mockPipeline) result(args mock.Arguments) (*pipeline.Result, error) {
	if r, _ := args.Get(0).(*pipeline.Result); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipeline) Run(ctx context.Context, sourceKey, trigger string) (*pipeline.Result, error) {
	return m.result(m.Called(ctx, sourceKey, trigger))
}

func (m *mockPipeline) Ingest(ctx context.Context, sourceKey string) (*pipeline.Result, error) {
	return m.result(m.Called(ctx, sourceKey))
}

func (m *mockPipeline) Publish(ctx context.Context, recallIDs []string) (*pipeline.Result, error) {
	return m.result(m.Called(ctx, recallIDs))
}

func (m *mockPipeline) Resume(ctx context.Context, runID string) (*pipeline.Result, error) {
	return m.result(m.Called(ctx, runID))
}

func (m *mockPipeline) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	args := m.Called(ctx, runID)
	if r, _ := args.Get(0).(*domain.Run); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipeline) Reconcile(ctx context.Context) (*pipeline.ReconcileReport, error) {
	args := m.Called(ctx)
	if r, _ := args.Get(0).(*pipeline.ReconcileReport); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipeline) ReleaseIntent(ctx context.Context, recallID string) error {
	return m.Called(ctx, recallID).Error(0)
}

func (m *mockPipeline) Tick(ctx context.Context, sourceKey string) error {
	return m.Called(ctx, sourceKey).Error(0)
}

type mockRecallSvc struct{ mock.Mock }

func (m *mockRecallSvc) ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]domain.Recall), args.String(1), args.Error(2)
}

func (m *mockRecallSvc) GetRecall(ctx context.Context, recallID string) (*domain.Recall, error) {
	args := m.Called(ctx, recallID)
	if r, _ := args.Get(0).(*domain.Recall); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecallSvc) ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error) {
	args := m.Called(ctx, limit, cursor)
	return args.Get(0).([]domain.Post), args.String(1), args.Error(2)
}

func (m *mockRecallSvc) ListSources(ctx context.Context) ([]domain.Source, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Source), args.Error(1)
}

func (m *mockRecallSvc) SyncSources(ctx context.Context, sources []domain.Source) (int, error) {
	args := m.Called(ctx, sources)
	return args.Int(0), args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

// --- helpers ---

// withParam injects a chi URL param into the request context.
func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
