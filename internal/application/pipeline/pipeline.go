package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/pkg/id"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Service is the pipeline orchestrator.
type Service interface {
	// Run executes all six stages for one source.
	Run(ctx context.Context, sourceKey, trigger string) (*Result, error)
	// Ingest executes fetch through select-unpublished and leaves the run
	// pending for a later publish.
	Ingest(ctx context.Context, sourceKey string) (*Result, error)
	// Publish executes select-unpublished through persist for the given
	// recall ids.
	Publish(ctx context.Context, recallIDs []string) (*Result, error)
	// Resume continues a failed or pending run after its last completed stage.
	Resume(ctx context.Context, runID string) (*Result, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	// Reconcile persists posts for published intents that have none and
	// reports held intents and unpublished recalls.
	Reconcile(ctx context.Context) (*ReconcileReport, error)
	ReleaseIntent(ctx context.Context, recallID string) error
	// Tick is the scheduled entry point: resume unfinished runs of the
	// source, then start a new one.
	Tick(ctx context.Context, sourceKey string) error
}

// Result describes what one execution of a run did.
type Result struct {
	Run     *domain.Run     `json:"run"`
	Recalls []domain.Recall `json:"recalls"`
	Posts   []domain.Post   `json:"posts"`
	Drafts  []domain.Draft  `json:"drafts,omitempty"`
	Held    []string        `json:"held,omitempty"`
	NoOp    bool            `json:"noop"`
}

// ReconcileReport is the outcome of Reconcile.
type ReconcileReport struct {
	Repaired    []domain.Post   `json:"repaired"`
	Held        []domain.Intent `json:"held"`
	Unpublished []domain.Recall `json:"unpublished"`
}

// Config is the orchestrator configuration. It is built by the caller from
// process configuration; the pipeline never reads the environment.
type Config struct {
	DryRun         bool
	FetchPolicy    RetryPolicy
	PublishPolicy  RetryPolicy
	PublishRate    float64 // publishes per second, 0 = unlimited
	MaxRunAttempts int     // Tick stops resuming a run after this many attempts

	// StaleRunAfter is how long a run may stay running without a checkpoint
	// before Tick treats its process as gone and resumes it.
	StaleRunAfter time.Duration
}

type Deps struct {
	Store       Store
	Fetchers    map[string]Fetcher // by source key
	Broadcaster Broadcaster
	Archiver    Archiver // optional
	Alerter     Alerter  // optional
	Metrics     Recorder // optional
	Logger      zerolog.Logger
}

type pipeline struct {
	cfg         Config
	store       Store
	fetchers    map[string]Fetcher
	broadcaster Broadcaster
	archiver    Archiver
	alerter     Alerter
	metrics     Recorder
	log         zerolog.Logger
	limiter     *rate.Limiter
	sleep       sleepFunc
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, deps Deps) Service {
	return newPipeline(cfg, deps)
}

func newPipeline(cfg Config, deps Deps) *pipeline {
	if cfg.FetchPolicy.MaxAttempts == 0 {
		cfg.FetchPolicy = DefaultFetchPolicy
	}
	if cfg.PublishPolicy.MaxAttempts == 0 {
		cfg.PublishPolicy = DefaultPublishPolicy
	}
	if cfg.MaxRunAttempts <= 0 {
		cfg.MaxRunAttempts = 5
	}
	if cfg.StaleRunAfter <= 0 {
		cfg.StaleRunAfter = 15 * time.Minute
	}
	limit := rate.Inf
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &pipeline{
		cfg:         cfg,
		store:       deps.Store,
		fetchers:    deps.Fetchers,
		broadcaster: deps.Broadcaster,
		archiver:    deps.Archiver,
		alerter:     deps.Alerter,
		metrics:     metrics,
		log:         deps.Logger.With().Str("component", "pipeline").Logger(),
		limiter:     rate.NewLimiter(limit, 1),
		sleep:       sleepCtx,
		now:         func() time.Time { return time.Now().UTC() },
		locks:       make(map[string]*sync.Mutex),
	}
}

func (p *pipeline) Run(ctx context.Context, sourceKey, trigger string) (*Result, error) {
	return p.start(ctx, sourceKey, trigger, domain.StagePersist)
}

func (p *pipeline) Ingest(ctx context.Context, sourceKey string) (*Result, error) {
	return p.start(ctx, sourceKey, TriggerManual, domain.StageSelectUnpublished)
}

func (p *pipeline) start(ctx context.Context, sourceKey, trigger string, until domain.Stage) (*Result, error) {
	if sourceKey == "" {
		return nil, fmt.Errorf("source is required: %w", domain.ErrBadRequest)
	}
	unlock, err := p.lock(sourceKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := p.now()
	run := &domain.Run{
		RunID:     id.New(),
		SourceKey: sourceKey,
		Trigger:   trigger,
		Status:    domain.RunRunning,
		Stage:     domain.StageNone,
		RecallIDs: []string{},
		Attempts:  1,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, &StoreError{Op: "create run", Err: err}
	}
	return p.execute(ctx, run, until)
}

func (p *pipeline) Publish(ctx context.Context, recallIDs []string) (*Result, error) {
	ids := uniqueIDs(recallIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("ids must not be empty: %w", domain.ErrBadRequest)
	}
	unlock, err := p.lock("")
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := p.now()
	run := &domain.Run{
		RunID:     id.New(),
		Trigger:   TriggerManual,
		Status:    domain.RunRunning,
		Stage:     domain.StageDedupeInsert,
		RecallIDs: ids,
		Attempts:  1,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, &StoreError{Op: "create run", Err: err}
	}
	return p.execute(ctx, run, domain.StagePersist)
}

func (p *pipeline) Resume(ctx context.Context, runID string) (*Result, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunComplete || run.Status == domain.RunNoop {
		return nil, fmt.Errorf("run %s already finished: %w", runID, domain.ErrConflict)
	}
	unlock, err := p.lock(run.SourceKey)
	if err != nil {
		return nil, err
	}
	defer unlock()
	// Re-read under the lock so a run finished meanwhile is not executed twice.
	if run, err = p.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	if run.Status == domain.RunComplete || run.Status == domain.RunNoop {
		return nil, fmt.Errorf("run %s already finished: %w", runID, domain.ErrConflict)
	}

	run.Status = domain.RunRunning
	run.FailedStage = domain.StageNone
	run.Error = ""
	run.FinishedAt = nil
	run.Attempts++
	run.UpdatedAt = p.now()
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return nil, &StoreError{Op: "update run", Err: err}
	}
	p.log.Info().Str("run_id", run.RunID).Str("source", run.SourceKey).
		Str("stage", string(run.Stage)).Int("attempt", run.Attempts).Msg("resuming run")
	return p.execute(ctx, run, domain.StagePersist)
}

func (p *pipeline) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return p.store.GetRun(ctx, runID)
}

func (p *pipeline) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	published, err := p.store.ListIntents(ctx, domain.IntentPublished, nil)
	if err != nil {
		return nil, &StoreError{Op: "list intents", Err: err}
	}
	report := &ReconcileReport{Repaired: []domain.Post{}, Held: []domain.Intent{}, Unpublished: []domain.Recall{}}
	if posts := p.postsFromIntents(published); len(posts) > 0 {
		inserted, err := p.store.InsertPostsSkipDuplicates(ctx, posts)
		if err != nil {
			return nil, &StoreError{Op: "insert posts", Err: err}
		}
		p.archive(ctx, inserted)
		report.Repaired = append(report.Repaired, inserted...)
	}
	held, err := p.store.ListIntents(ctx, domain.IntentPending, nil)
	if err != nil {
		return nil, &StoreError{Op: "list intents", Err: err}
	}
	report.Held = append(report.Held, held...)
	unpublished, err := p.store.SelectRecallsWithoutPost(ctx, nil)
	if err != nil {
		return nil, &StoreError{Op: "select unpublished", Err: err}
	}
	report.Unpublished = append(report.Unpublished, unpublished...)

	p.log.Info().Int("repaired", len(report.Repaired)).Int("held", len(held)).
		Int("unpublished", len(unpublished)).Msg("reconcile finished")
	return report, nil
}

func (p *pipeline) ReleaseIntent(ctx context.Context, recallID string) error {
	if err := p.store.ReleaseIntent(ctx, recallID); err != nil {
		return err
	}
	p.log.Warn().Str("recall_id", recallID).Msg("publication intent released")
	return nil
}

func (p *pipeline) Tick(ctx context.Context, sourceKey string) error {
	runs, err := p.store.ListRuns(ctx, sourceKey, domain.RunFailed, domain.RunPending, domain.RunRunning)
	if err != nil {
		return &StoreError{Op: "list runs", Err: err}
	}
	now := p.now()
	for _, r := range runs {
		// Runs that failed before dedupe-insert hold nothing the new run
		// won't fetch again.
		if !r.Stage.Done(domain.StageDedupeInsert) || r.Attempts >= p.cfg.MaxRunAttempts {
			continue
		}
		// A running run is only picked up once its process stopped
		// checkpointing, e.g. after a crash between stages.
		if r.Status == domain.RunRunning && now.Sub(r.UpdatedAt) < p.cfg.StaleRunAfter {
			continue
		}
		if _, err := p.Resume(ctx, r.RunID); err != nil {
			p.log.Warn().Err(err).Str("run_id", r.RunID).Msg("resume failed")
		}
	}
	_, err = p.Run(ctx, sourceKey, TriggerSchedule)
	return err
}

// lock enforces a single runner per source inside this process.
func (p *pipeline) lock(key string) (func(), error) {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()
	if !m.TryLock() {
		return nil, fmt.Errorf("a run for %q is already in progress: %w", key, domain.ErrConflict)
	}
	return m.Unlock, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, s := range ids {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
