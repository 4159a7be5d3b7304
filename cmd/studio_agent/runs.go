package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/video-studio/internal/observability"
)

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var user, video string
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List a video's runs, or show one run with its steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			printer := observability.NewPrinter(cmd.OutOrStdout())

			if len(args) == 1 {
				runID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid run id: %w", err)
				}
				run, err := a.store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", runID)
				}
				records, err := a.store.ListRunSteps(ctx, runID)
				if err != nil {
					return err
				}
				printer.PrintRun(run, records)
				return nil
			}

			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			videoID, err := uuid.Parse(video)
			if err != nil {
				return fmt.Errorf("invalid --video: %w", err)
			}
			runs, err := a.store.ListRunsByVideo(ctx, videoID, userID)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			printer.PrintRuns(runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Owner of the video")
	cmd.Flags().StringVar(&video, "video", "", "Video whose runs are listed")
	return cmd
}
