package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	jwtinfra "github.com/recallbot/internal/infrastructure/jwt"
	"github.com/recallbot/internal/infrastructure/scheduler"
	transporthttp "github.com/recallbot/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	*rootOptions
	NoSchedule bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler",
		Long: `Serve the read API and the operator endpoints, and tick every
configured source on SCHEDULE. Notifies systemd when ready and when stopping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoSchedule, "no-schedule", false, "serve the API without the scheduler")

	return cmd
}

func serve(parent context.Context, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.rootOptions, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := &transporthttp.Deps{
		Pipeline: a.pipeline,
		Recalls:  a.recalls,
		Store:    a.store,
		Metrics:  a.metrics.Handler(),
		Logger:   a.log,
	}
	if p, err := jwtinfra.NewProvider(a.cfg); err == nil {
		deps.Tokens = p
	} else {
		a.log.Warn().Err(err).Msg("JWT provider not available")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.AppPort),
		Handler:      transporthttp.NewRouter(a.cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // a manual run includes fetch and publish retries
		IdleTimeout:  60 * time.Second,
	}

	var sched *scheduler.Scheduler
	if !opts.NoSchedule && a.cfg.Schedule != "" {
		sched, err = scheduler.New(a.cfg.Schedule, a.cfg.ScheduleTimezone, a.sources, a.pipeline, a.log)
		if err != nil {
			return err
		}
		sched.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("port", a.cfg.AppPort).Str("env", a.cfg.AppEnv).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	notify(a, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	a.log.Info().Msg("shutting down")
	notify(a, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("scheduler did not stop in time")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	a.log.Info().Msg("server stopped")
	return nil
}

// notify is a no-op outside systemd.
func notify(a *app, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
