package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/recallbot/internal/application/notification"
	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/pkg/id"
	"github.com/rs/zerolog"
)

// execute runs every stage after run.Stage, stopping once until completes.
// Each completed stage is checkpointed before the next one starts.
func (p *pipeline) execute(ctx context.Context, run *domain.Run, until domain.Stage) (*Result, error) {
	log := p.log.With().Str("run_id", run.RunID).Str("source", run.SourceKey).Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	res := &Result{Run: run, Recalls: []domain.Recall{}, Posts: []domain.Post{}}

	if !run.Stage.Done(domain.StageDedupeInsert) {
		begin := time.Now()
		cands, err := p.fetch(ctx, run.SourceKey, rng, log)
		p.metrics.StageDuration(domain.StageFetch, time.Since(begin))
		if err != nil {
			return res, p.fail(ctx, run, domain.StageFetch, err, log)
		}
		if err := p.checkpoint(ctx, run, domain.StageFetch); err != nil {
			return res, p.fail(ctx, run, domain.StageFetch, err, log)
		}

		src, err := p.store.GetSourceByKey(ctx, run.SourceKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = &ConfigurationError{Message: fmt.Sprintf("unknown source %q", run.SourceKey), Err: err}
			} else {
				err = &StoreError{Op: "get source", Err: err}
			}
			return res, p.fail(ctx, run, domain.StageResolveSource, err, log)
		}
		if err := p.checkpoint(ctx, run, domain.StageResolveSource); err != nil {
			return res, p.fail(ctx, run, domain.StageResolveSource, err, log)
		}

		begin = time.Now()
		inserted, err := p.store.InsertRecallsSkipDuplicates(ctx, p.toRecalls(src, cands))
		p.metrics.StageDuration(domain.StageDedupeInsert, time.Since(begin))
		for _, r := range inserted {
			run.RecallIDs = append(run.RecallIDs, r.RecallID)
		}
		run.Inserted += len(inserted)
		p.metrics.RecallsInserted(run.SourceKey, len(inserted))
		if err != nil {
			return res, p.fail(ctx, run, domain.StageDedupeInsert, &StoreError{Op: "insert recalls", Err: err}, log)
		}
		if err := p.checkpoint(ctx, run, domain.StageDedupeInsert); err != nil {
			return res, p.fail(ctx, run, domain.StageDedupeInsert, err, log)
		}
		log.Info().Int("candidates", len(cands)).Int("inserted", len(inserted)).Msg("recalls ingested")
	}

	if len(run.RecallIDs) == 0 {
		log.Info().Msg("no new recalls found")
		res.NoOp = true
		return res, p.finish(ctx, run, domain.RunNoop, log)
	}

	unpublished, err := p.store.SelectRecallsWithoutPost(ctx, run.RecallIDs)
	if err != nil {
		return res, p.fail(ctx, run, domain.StageSelectUnpublished, &StoreError{Op: "select unpublished", Err: err}, log)
	}
	res.Recalls = unpublished
	if !run.Stage.Done(domain.StageSelectUnpublished) {
		if err := p.checkpoint(ctx, run, domain.StageSelectUnpublished); err != nil {
			return res, p.fail(ctx, run, domain.StageSelectUnpublished, err, log)
		}
	}

	if until == domain.StageSelectUnpublished {
		if len(unpublished) == 0 {
			res.NoOp = true
			return res, p.finish(ctx, run, domain.RunNoop, log)
		}
		run.Status = domain.RunPending
		run.UpdatedAt = p.now()
		if err := p.store.UpdateRun(ctx, run); err != nil {
			return res, &StoreError{Op: "update run", Err: err}
		}
		log.Info().Int("unpublished", len(unpublished)).Msg("recalls waiting for publish")
		return res, nil
	}

	begin := time.Now()
	published, pubErr := p.publishEach(ctx, run, unpublished, rng, res, log)
	p.metrics.StageDuration(domain.StagePublish, time.Since(begin))
	run.Published += published
	if pubErr == nil {
		if err := p.checkpoint(ctx, run, domain.StagePublish); err != nil {
			return res, p.fail(ctx, run, domain.StagePublish, err, log)
		}
	}

	// Receipts already obtained are persisted even when a later publish
	// failed, so a resume only has to retry the failed recall.
	begin = time.Now()
	posts, err := p.persist(ctx, run.RecallIDs)
	p.metrics.StageDuration(domain.StagePersist, time.Since(begin))
	res.Posts = posts
	if pubErr != nil {
		if err != nil {
			log.Error().Err(err).Msg("persisting partial publish results failed")
		}
		return res, p.fail(ctx, run, domain.StagePublish, pubErr, log)
	}
	if err != nil {
		return res, p.fail(ctx, run, domain.StagePersist, err, log)
	}
	if err := p.checkpoint(ctx, run, domain.StagePersist); err != nil {
		return res, p.fail(ctx, run, domain.StagePersist, err, log)
	}

	status := domain.RunComplete
	if published == 0 && len(posts) == 0 && len(res.Drafts) == 0 {
		res.NoOp = true
		status = domain.RunNoop
	}
	return res, p.finish(ctx, run, status, log)
}

func (p *pipeline) fetch(ctx context.Context, sourceKey string, rng *rand.Rand, log zerolog.Logger) ([]domain.Candidate, error) {
	f, ok := p.fetchers[sourceKey]
	if !ok || f == nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("no fetcher for source %q", sourceKey)}
	}
	var raw []domain.Candidate
	attempts, err := p.cfg.FetchPolicy.do(ctx, p.sleep, rng,
		func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("fetch failed")
		},
		func(ctx context.Context) error {
			cs, err := f.Fetch(ctx)
			if err != nil {
				return classifyUpstream(err)
			}
			raw = cs
			return nil
		})
	if err != nil {
		fe := toFetchError(err)
		fe.Message = fmt.Sprintf("%s (after %d attempts)", fe.Message, attempts)
		return nil, fe
	}
	cands, rejected := NormalizeAll(raw)
	for _, rerr := range rejected {
		log.Warn().Err(rerr).Msg("candidate skipped")
	}
	return cands, nil
}

func (p *pipeline) toRecalls(src *domain.Source, cands []domain.Candidate) []domain.Recall {
	now := p.now()
	out := make([]domain.Recall, 0, len(cands))
	for _, c := range cands {
		out = append(out, domain.Recall{
			RecallID:   id.New(),
			SourceID:   src.SourceID,
			NaturalKey: c.NaturalKey,
			LinkText:   c.LinkText,
			Product:    c.Product,
			Category:   c.Category,
			Reason:     c.Reason,
			Company:    c.Company,
			Date:       c.Date,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return out
}

// publishEach publishes recalls one at a time and stops at the first
// failure. It returns how many were delivered.
func (p *pipeline) publishEach(ctx context.Context, run *domain.Run, recalls []domain.Recall, rng *rand.Rand, res *Result, log zerolog.Logger) (int, error) {
	published := 0
	for _, r := range recalls {
		if err := p.limiter.Wait(ctx); err != nil {
			return published, &PublishError{RecallID: r.RecallID, Err: err}
		}
		draft := notification.Render(r)
		delivered, err := p.publishOne(ctx, run, draft, rng, res, log)
		if err != nil {
			return published, err
		}
		if delivered {
			published++
		}
	}
	log.Info().Int("published", published).Int("held", len(res.Held)).Bool("dry_run", p.cfg.DryRun).Msg("publish finished")
	return published, nil
}

func (p *pipeline) publishOne(ctx context.Context, run *domain.Run, d domain.Draft, rng *rand.Rand, res *Result, log zerolog.Logger) (bool, error) {
	log = log.With().Str("recall_id", d.RecallID).Logger()
	now := p.now()
	intent := &domain.Intent{
		RecallID:  d.RecallID,
		RunID:     run.RunID,
		Status:    domain.IntentPending,
		Title:     d.Title,
		Content:   d.Text,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := p.store.BeginIntent(ctx, intent); err != nil {
		if isConflict(err) {
			res.Held = append(res.Held, d.RecallID)
			ev := log.Warn()
			if existing != nil {
				ev = ev.Str("intent_status", string(existing.Status)).Str("intent_run", existing.RunID)
			}
			ev.Msg("recall already has a publication intent, skipping")
			return false, nil
		}
		return false, &StoreError{Op: "begin intent", Err: err}
	}

	var receipt domain.Receipt
	ambiguous := false
	_, err := p.cfg.PublishPolicy.do(ctx, p.sleep, rng,
		func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("publish failed")
		},
		func(ctx context.Context) error {
			rc, err := p.broadcaster.Publish(ctx, d)
			if err != nil {
				// The remote side may have accepted the post, so another
				// attempt could publish it twice.
				if mayHaveDelivered(err) {
					ambiguous = true
					return NoRetry(err)
				}
				return classifyUpstream(err)
			}
			if !p.cfg.DryRun && rc.URI == "" {
				return NoRetry(errors.New("broadcaster returned an empty uri"))
			}
			receipt = rc
			return nil
		})

	// Bookkeeping after the external call must not be lost to cancellation.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		p.metrics.Published(p.broadcaster.Name(), "failed")
		if ambiguous {
			log.Error().Err(err).Msg("publish outcome unknown, intent left pending")
		} else if ferr := p.store.FailIntent(bg, d.RecallID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("mark intent failed")
		}
		return false, &PublishError{RecallID: d.RecallID, Ambiguous: ambiguous, Err: err}
	}

	if p.cfg.DryRun {
		p.metrics.Published(p.broadcaster.Name(), "dry_run")
		res.Drafts = append(res.Drafts, d)
		if err := p.store.ReleaseIntent(bg, d.RecallID); err != nil {
			return false, &StoreError{Op: "release intent", Err: err}
		}
		log.Info().Msg("dry-run publish")
		return false, nil
	}

	p.metrics.Published(p.broadcaster.Name(), "published")
	if err := p.store.CompleteIntent(bg, d.RecallID, receipt); err != nil {
		log.Error().Err(err).Str("uri", receipt.URI).Msg("published but intent not recorded")
		return true, &StoreError{Op: "complete intent", Err: err}
	}
	log.Info().Str("uri", receipt.URI).Msg("recall published")
	return true, nil
}

// persist turns the published intents of ids into posts.
func (p *pipeline) persist(ctx context.Context, ids []string) ([]domain.Post, error) {
	intents, err := p.store.ListIntents(ctx, domain.IntentPublished, ids)
	if err != nil {
		return nil, &StoreError{Op: "list intents", Err: err}
	}
	posts := p.postsFromIntents(intents)
	if len(posts) == 0 {
		return []domain.Post{}, nil
	}
	inserted, err := p.store.InsertPostsSkipDuplicates(ctx, posts)
	if err != nil {
		return inserted, &StoreError{Op: "insert posts", Err: err}
	}
	p.archive(ctx, inserted)
	return inserted, nil
}

func (p *pipeline) postsFromIntents(intents []domain.Intent) []domain.Post {
	now := p.now()
	posts := make([]domain.Post, 0, len(intents))
	for _, in := range intents {
		if in.URI == "" {
			continue
		}
		posts = append(posts, domain.Post{
			PostID:    id.New(),
			RecallID:  in.RecallID,
			Title:     in.Title,
			Content:   in.Content,
			URI:       in.URI,
			CID:       in.CID,
			Raw:       in.Raw,
			Embed:     in.Embed,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return posts
}

func (p *pipeline) archive(ctx context.Context, posts []domain.Post) {
	if p.archiver == nil {
		return
	}
	for _, post := range posts {
		if err := p.archiver.Archive(ctx, post); err != nil {
			p.log.Warn().Err(err).Str("post_id", post.PostID).Msg("archive post payload")
		}
	}
}

func (p *pipeline) checkpoint(ctx context.Context, run *domain.Run, stage domain.Stage) error {
	run.Stage = stage
	run.UpdatedAt = p.now()
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return &StoreError{Op: "checkpoint " + string(stage), Err: err}
	}
	return nil
}

func (p *pipeline) finish(ctx context.Context, run *domain.Run, status domain.RunStatus, log zerolog.Logger) error {
	now := p.now()
	run.Status = status
	run.UpdatedAt = now
	run.FinishedAt = &now
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return &StoreError{Op: "update run", Err: err}
	}
	p.metrics.RunFinished(run.SourceKey, status)
	log.Info().Str("status", string(status)).Int("inserted", run.Inserted).Int("published", run.Published).Msg("run finished")
	return nil
}

// fail records the failed stage on the run and returns a *StageError.
func (p *pipeline) fail(ctx context.Context, run *domain.Run, stage domain.Stage, cause error, log zerolog.Logger) error {
	now := p.now()
	run.Status = domain.RunFailed
	run.FailedStage = stage
	run.Error = cause.Error()
	run.UpdatedAt = now
	run.FinishedAt = &now

	bg := context.WithoutCancel(ctx)
	if err := p.store.UpdateRun(bg, run); err != nil {
		log.Error().Err(err).Msg("record run failure")
	}
	p.metrics.StageFailed(stage)
	p.metrics.RunFinished(run.SourceKey, domain.RunFailed)
	log.Error().Err(cause).Str("stage", string(stage)).Msg("run failed")

	if p.alerter != nil {
		if err := p.alerter.RunFailed(bg, *run); err != nil {
			log.Warn().Err(err).Msg("send failure alert")
		}
	}
	return &StageError{RunID: run.RunID, Stage: stage, Err: cause}
}

// mayHaveDelivered reports whether err leaves it unknown if the remote side
// accepted the request.
func mayHaveDelivered(err error) bool {
	return isTimeout(err) || errors.Is(err, context.Canceled)
}
