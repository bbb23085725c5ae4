package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/pkg/id"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service is the read side of the recall store plus the source catalog sync.
type Service interface {
	ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error)
	GetRecall(ctx context.Context, recallID string) (*domain.Recall, error)
	ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	// SyncSources creates catalog sources that do not exist yet. Existing
	// sources are never modified.
	SyncSources(ctx context.Context, sources []domain.Source) (int, error)
}

type store interface {
	ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error)
	GetRecall(ctx context.Context, recallID string) (*domain.Recall, error)
	ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	CreateSource(ctx context.Context, s *domain.Source) error
}

type service struct {
	repo store
}

func NewService(repo store) Service {
	return &service{repo: repo}
}

func (s *service) ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error) {
	q.Limit = clampLimit(q.Limit)
	q.Search = strings.TrimSpace(q.Search)
	return s.repo.ListRecalls(ctx, q)
}

func (s *service) GetRecall(ctx context.Context, recallID string) (*domain.Recall, error) {
	if recallID == "" {
		return nil, fmt.Errorf("recall id is required: %w", domain.ErrBadRequest)
	}
	return s.repo.GetRecall(ctx, recallID)
}

func (s *service) ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error) {
	return s.repo.ListPosts(ctx, clampLimit(limit), cursor)
}

func (s *service) ListSources(ctx context.Context) ([]domain.Source, error) {
	return s.repo.ListSources(ctx)
}

func (s *service) SyncSources(ctx context.Context, sources []domain.Source) (int, error) {
	created := 0
	for _, src := range sources {
		now := time.Now().UTC()
		src.SourceID = id.New()
		src.CreatedAt = now
		src.UpdatedAt = now
		if err := s.repo.CreateSource(ctx, &src); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("create source %s: %w", src.Key, err)
		}
		created++
	}
	return created, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
