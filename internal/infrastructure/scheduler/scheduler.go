package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Ticker is the scheduled entry point of the pipeline.
type Ticker interface {
	Tick(ctx context.Context, sourceKey string) error
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a cron expression ("*/30 * * * *", "@hourly",
// "@every 1h") or a bare Go duration ("45m"), which runs at that interval.
func ParseSchedule(raw string) (cron.Schedule, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, "", fmt.Errorf("schedule required")
	}
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *' or a duration like '55m')", raw)
		}
		if d <= 0 {
			return nil, "", fmt.Errorf("interval must be > 0")
		}
		s = "@every " + d.String()
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return sched, s, nil
}

// Scheduler ticks every source on a schedule. A tick that is still running
// when the next one fires is skipped.
type Scheduler struct {
	c       *cron.Cron
	ticker  Ticker
	sources []string
	spec    string
	log     zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(spec, timezone string, sources []string, t Ticker, log zerolog.Logger) (*Scheduler, error) {
	sched, normalized, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}
	s := &Scheduler{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ticker:  t,
		sources: sources,
		spec:    normalized,
		log:     log,
	}
	s.c.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Start begins firing. ctx bounds every tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.c.Start()
	s.log.Info().Str("schedule", s.spec).Strs("sources", s.sources).Msg("scheduler started")
}

// Stop prevents new ticks, cancels the running one and waits for it.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return
		}
		if err := s.ticker.Tick(ctx, src); err != nil {
			s.log.Warn().Err(err).Str("source", src).Msg("scheduled run failed")
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
