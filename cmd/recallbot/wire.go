package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/recallbot/internal/application/pipeline"
	"github.com/recallbot/internal/application/recall"
	"github.com/recallbot/internal/config"
	"github.com/recallbot/internal/domain"
	awsinfra "github.com/recallbot/internal/infrastructure/aws"
	"github.com/recallbot/internal/infrastructure/bluesky"
	"github.com/recallbot/internal/infrastructure/dynamo"
	"github.com/recallbot/internal/infrastructure/fda"
	"github.com/recallbot/internal/infrastructure/metrics"
	s3infra "github.com/recallbot/internal/infrastructure/s3"
	"github.com/recallbot/internal/infrastructure/smtp"
	"github.com/recallbot/internal/infrastructure/sns"
	"github.com/recallbot/internal/infrastructure/sqlstore"
	"github.com/recallbot/internal/infrastructure/telegram"
	"github.com/recallbot/internal/pkg/logger"
	"github.com/rs/zerolog"
)

const sourceFDA = "US-FDA"

// store is everything the commands need from a persistence backend.
type store interface {
	pipeline.Store
	ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error)
	GetRecall(ctx context.Context, recallID string) (*domain.Recall, error)
	ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	CreateSource(ctx context.Context, s *domain.Source) error
	Ping(ctx context.Context) error
	Close() error
}

// app is the wired process: configuration, logger, store and services.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    store
	pipeline pipeline.Service
	recalls  recall.Service
	metrics  *metrics.Recorder
	sources  []string

	awsCfg *aws.Config
}

// newApp loads configuration and builds every collaborator. Log output goes
// to w so one-shot commands keep stdout for their result.
func newApp(ctx context.Context, opts *rootOptions, w io.Writer) (*app, error) {
	cfg := config.Load()
	if opts.DryRun {
		cfg.DryRun = true
	}
	a := &app{
		cfg:     cfg,
		log:     logger.NewWithWriter(w, cfg.LogLevel, cfg.LogFormat),
		metrics: metrics.New(),
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.recalls = recall.NewService(st)

	if err := a.syncSources(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	bc, err := a.broadcaster(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	archiver, err := a.archiver(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Store: st,
		Fetchers: map[string]pipeline.Fetcher{
			sourceFDA: fda.NewClient(cfg.FDAURL, cfg.FetchTimeout, a.log),
		},
		Broadcaster: bc,
		Metrics:     a.metrics,
		Logger:      a.log,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	if cfg.AlertEmail != "" {
		deps.Alerter = smtp.NewAlerter(smtp.NewMailer(cfg), cfg.AlertEmail)
	}

	a.pipeline = pipeline.New(pipeline.Config{
		DryRun: cfg.DryRun,
		FetchPolicy: pipeline.RetryPolicy{
			MaxAttempts: cfg.FetchMaxAttempts,
			Base:        cfg.FetchRetryBase,
			MaxDelay:    pipeline.DefaultFetchPolicy.MaxDelay,
			Jitter:      pipeline.DefaultFetchPolicy.Jitter,
			Timeout:     cfg.FetchTimeout,
		},
		PublishPolicy: pipeline.RetryPolicy{
			MaxAttempts: cfg.PublishMaxAttempts,
			Base:        cfg.PublishRetryBase,
			MaxDelay:    pipeline.DefaultPublishPolicy.MaxDelay,
			Jitter:      pipeline.DefaultPublishPolicy.Jitter,
			Timeout:     cfg.PublishTimeout,
		},
		PublishRate:    cfg.PublishRate,
		MaxRunAttempts: cfg.RunMaxAttempts,
		StaleRunAfter:  cfg.StaleRunAfter,
	}, deps)

	a.log.Info().
		Str("store", cfg.StoreDriver).
		Str("broadcaster", bc.Name()).
		Bool("dry_run", cfg.DryRun).
		Strs("sources", a.sources).
		Msg("recallbot wired")
	return a, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	c, err := awsinfra.LoadConfig(ctx, a.cfg)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	a.awsCfg = &c
	return c, nil
}

func (a *app) openStore(ctx context.Context) (store, error) {
	switch a.cfg.StoreDriver {
	case "dynamo", "dynamodb":
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := dynamo.NewClient(awsCfg, a.cfg.AWSEndpointURL)
		dynamo.Bootstrap(ctx, client, a.cfg.DynamoTables, a.log)
		return dynamo.NewStore(client, a.cfg.DynamoTables), nil
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		st, err := sqlstore.Open(ctx, a.cfg.StoreDriver, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", a.cfg.StoreDriver, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", a.cfg.StoreDriver)
	}
}

func (a *app) syncSources(ctx context.Context) error {
	entries, err := config.LoadSources(a.cfg.SourcesFile)
	if err != nil {
		return err
	}
	sources := make([]domain.Source, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, domain.Source{Key: e.Key, Name: e.Name})
		a.sources = append(a.sources, e.Key)
	}
	created, err := a.recalls.SyncSources(ctx, sources)
	if err != nil {
		return fmt.Errorf("sync sources: %w", err)
	}
	if created > 0 {
		a.log.Info().Int("created", created).Msg("sources catalog synced")
	}
	return nil
}

func (a *app) broadcaster(ctx context.Context) (pipeline.Broadcaster, error) {
	cfg := a.cfg
	switch cfg.Broadcaster {
	case "bluesky", "":
		return bluesky.NewClient(cfg.BskyService, cfg.BskyHandle, cfg.BskyPassword, cfg.DryRun, a.log), nil
	case "sns":
		if cfg.SNSTopicARN == "" {
			return nil, fmt.Errorf("SNS_TOPIC_ARN is required for the sns broadcaster")
		}
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return sns.NewBroadcaster(sns.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.SNSTopicARN, cfg.DryRun, a.log), nil
	case "telegram":
		b, err := telegram.New(cfg.TelegramToken, cfg.TelegramChannel, "", cfg.PublishTimeout, cfg.DryRun, a.log)
		if err != nil {
			return nil, fmt.Errorf("telegram broadcaster: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown BROADCASTER %q", cfg.Broadcaster)
	}
}

// archiver returns nil when no bucket is configured.
func (a *app) archiver(ctx context.Context) (*s3infra.Store, error) {
	if a.cfg.S3BucketName == "" {
		return nil, nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3infra.NewStore(s3infra.NewClient(awsCfg, a.cfg.AWSEndpointURL), a.cfg.S3BucketName), nil
}
