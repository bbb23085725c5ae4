package pipeline

import (
	"context"
	"time"

	"github.com/recallbot/internal/domain"
)

// Store is the persistence contract the pipeline depends on. Insert methods
// skip rows whose natural key already exists and return only the new ones;
// a conflict is never an error.
type Store interface {
	GetSourceByKey(ctx context.Context, key string) (*domain.Source, error)

	// InsertRecallsSkipDuplicates may return the rows it managed to insert
	// together with an error when the batch failed part way.
	InsertRecallsSkipDuplicates(ctx context.Context, recalls []domain.Recall) ([]domain.Recall, error)
	// SelectRecallsWithoutPost returns the recalls among ids that have no
	// post and no pending or published intent. A nil ids slice means all.
	SelectRecallsWithoutPost(ctx context.Context, ids []string) ([]domain.Recall, error)
	InsertPostsSkipDuplicates(ctx context.Context, posts []domain.Post) ([]domain.Post, error)

	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, sourceKey string, statuses ...domain.RunStatus) ([]domain.Run, error)

	// BeginIntent records a pending intent. When a pending or published
	// intent already exists it returns that intent and domain.ErrConflict;
	// a failed intent is taken over.
	BeginIntent(ctx context.Context, in *domain.Intent) (*domain.Intent, error)
	CompleteIntent(ctx context.Context, recallID string, rc domain.Receipt) error
	FailIntent(ctx context.Context, recallID, reason string) error
	// ReleaseIntent deletes a pending or failed intent. Published intents
	// cannot be released (domain.ErrConflict).
	ReleaseIntent(ctx context.Context, recallID string) error
	// ListIntents filters by status and, when recallIDs is non-nil, by recall.
	ListIntents(ctx context.Context, status domain.IntentStatus, recallIDs []string) ([]domain.Intent, error)
}

// Fetcher returns every current candidate of one source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.Candidate, error)
}

// Broadcaster delivers one draft. In dry-run mode it validates the draft and
// returns an empty receipt.
type Broadcaster interface {
	Name() string
	Publish(ctx context.Context, d domain.Draft) (domain.Receipt, error)
}

// Archiver stores the raw payloads of persisted posts.
type Archiver interface {
	Archive(ctx context.Context, p domain.Post) error
}

// Alerter notifies an operator about a failed run.
type Alerter interface {
	RunFailed(ctx context.Context, run domain.Run) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RunFinished(source string, status domain.RunStatus)
	StageFailed(stage domain.Stage)
	StageDuration(stage domain.Stage, d time.Duration)
	RecallsInserted(source string, n int)
	Published(broadcaster, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, domain.RunStatus)      {}
func (nopRecorder) StageFailed(domain.Stage)                  {}
func (nopRecorder) StageDuration(domain.Stage, time.Duration) {}
func (nopRecorder) RecallsInserted(string, int)               {}
func (nopRecorder) Published(string, string)                  {}
