package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/recallbot/internal/application/pipeline"
)

type runOptions struct {
	*rootOptions
	IngestOnly bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [source]",
		Short: "Run the pipeline once for a source",
		Long: `Fetch, deduplicate and publish new recalls for one source
(default US-FDA). With --ingest-only the run stops before publishing and
stays pending until "publish" or "resume".

Example:
  recallbot run
  recallbot run US-FDA --dry-run
  recallbot run --ingest-only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := sourceFDA
			if len(args) == 1 {
				source = args[0]
			}
			a, err := newApp(cmd.Context(), opts.rootOptions, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *pipeline.Result
			if opts.IngestOnly {
				res, err = a.pipeline.Ingest(cmd.Context(), source)
			} else {
				res, err = a.pipeline.Run(cmd.Context(), source, pipeline.TriggerManual)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&opts.IngestOnly, "ingest-only", false, "stop after selecting unpublished recalls")

	return cmd
}

func newResumeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue a failed or pending run after its last completed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newPublishCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <recall-id>...",
		Short: "Publish the given recalls if they have no post yet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Publish(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

type reconcileOptions struct {
	*rootOptions
	Release []string
}

func newReconcileCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &reconcileOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair posts of published intents and report held recalls",
		Long: `Persist posts for intents that were published but never recorded,
then list intents still pending and recalls without a post.

A pending intent means a publish may or may not have reached the
broadcaster. Check the feed, then free it with --release so the recall
can be published again.

Example:
  recallbot reconcile
  recallbot reconcile --release 01J9Z...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.rootOptions, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range opts.Release {
				if err := a.pipeline.ReleaseIntent(cmd.Context(), id); err != nil {
					return fmt.Errorf("release %s: %w", id, err)
				}
				a.log.Info().Str("recall_id", id).Msg("intent released")
			}
			rep, err := a.pipeline.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Release, "release", nil, "recall ids whose pending or failed intent should be released first")

	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
