package recall

import (
	"context"
	"errors"
	"testing"

	"github.com/recallbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStore struct{ mock.Mock }

func (m *mockStore) ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]domain.Recall), args.String(1), args.Error(2)
}
func (m *mockStore) GetRecall(ctx context.Context, recallID string) (*domain.Recall, error) {
	args := m.Called(ctx, recallID)
	if r, _ := args.Get(0).(*domain.Recall); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error) {
	args := m.Called(ctx, limit, cursor)
	return args.Get(0).([]domain.Post), args.String(1), args.Error(2)
}
func (m *mockStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Source), args.Error(1)
}
func (m *mockStore) CreateSource(ctx context.Context, s *domain.Source) error {
	return m.Called(ctx, s).Error(0)
}

// --- tests ---

func TestListRecalls_ClampsLimit(t *testing.T) {
	repo := &mockStore{}
	svc := NewService(repo)

	repo.On("ListRecalls", mock.Anything, domain.RecallQuery{Limit: 100, Search: "peanut"}).
		Return([]domain.Recall{{RecallID: "r1"}}, "next", nil)

	got, next, err := svc.ListRecalls(context.Background(), domain.RecallQuery{Limit: 5000, Search: " peanut "})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "next", next)
	repo.AssertExpectations(t)
}

func TestListPosts_DefaultLimit(t *testing.T) {
	repo := &mockStore{}
	svc := NewService(repo)
	repo.On("ListPosts", mock.Anything, 20, "").Return([]domain.Post{}, "", nil)

	_, _, err := svc.ListPosts(context.Background(), 0, "")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestGetRecall_NotFound(t *testing.T) {
	repo := &mockStore{}
	svc := NewService(repo)
	repo.On("GetRecall", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	_, err := svc.GetRecall(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetRecall_EmptyID(t *testing.T) {
	_, err := NewService(&mockStore{}).GetRecall(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestSyncSources_SkipsExisting(t *testing.T) {
	repo := &mockStore{}
	svc := NewService(repo)

	repo.On("CreateSource", mock.Anything, mock.MatchedBy(func(s *domain.Source) bool { return s.Key == "US-FDA" })).
		Return(domain.ErrConflict)
	repo.On("CreateSource", mock.Anything, mock.MatchedBy(func(s *domain.Source) bool {
		return s.Key == "CA-HC" && s.SourceID != "" && !s.CreatedAt.IsZero()
	})).Return(nil)

	n, err := svc.SyncSources(context.Background(), []domain.Source{
		{Key: "US-FDA", Name: "U.S. Food and Drug Administration"},
		{Key: "CA-HC", Name: "Health Canada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	repo.AssertExpectations(t)
}

func TestSyncSources_StoreFailure(t *testing.T) {
	repo := &mockStore{}
	svc := NewService(repo)
	repo.On("CreateSource", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := svc.SyncSources(context.Background(), []domain.Source{{Key: "US-FDA"}})
	assert.ErrorContains(t, err, "db down")
}
