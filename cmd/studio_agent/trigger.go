package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/video-studio/internal/observability"
	"github.com/jonathan/video-studio/internal/types"
)

func newTriggerCmd(opts *globalOptions) *cobra.Command {
	var (
		user, video, prompt string
		inline              bool
	)
	cmd := &cobra.Command{
		Use:   "trigger <title|description|thumbnail>",
		Short: "Create and enqueue a workflow run",
		Long: `Create a run for the video and publish it to the queue, the same way the HTTP trigger does.

With --inline the run executes in this process instead and its steps are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			videoID, err := uuid.Parse(video)
			if err != nil {
				return fmt.Errorf("invalid --video: %w", err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.createRun(ctx, args[0], types.WorkflowInput{UserID: userID, VideoID: videoID, Prompt: prompt}, !inline)
			if err != nil {
				return err
			}
			if !inline {
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s run %s\n", run.Workflow, run.ID)
				return nil
			}

			if err := a.dispatcher.Execute(ctx, run.ID); err != nil {
				return err
			}
			finished, err := a.store.GetRun(ctx, run.ID)
			if err != nil {
				return err
			}
			records, err := a.store.ListRunSteps(ctx, run.ID)
			if err != nil {
				return err
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintRun(finished, records)
			if finished.Status == types.RunStatusFailed {
				return fmt.Errorf("run %s failed", run.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Owner of the video (required)")
	cmd.Flags().StringVar(&video, "video", "", "Video to enrich (required)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Image prompt, required for thumbnail")
	cmd.Flags().BoolVar(&inline, "inline", false, "Execute the run in this process")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("video")
	return cmd
}
