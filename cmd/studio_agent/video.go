package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newVideoCmd groups the record maintenance commands used while the media service
// integration is not wired: creating placeholders and attaching transcript tracks.
func newVideoCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Create videos and attach media references",
	}

	var user, title string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a placeholder video",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			a, err := newApp(cmd.Context(), opts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			video, err := a.store.CreateVideo(cmd.Context(), userID, title)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(video)
		},
	}
	create.Flags().StringVar(&user, "user", "", "Owner of the video (required)")
	create.Flags().StringVar(&title, "title", "", "Initial title")
	_ = create.MarkFlagRequired("user")

	var trackUser, playback, track string
	attach := &cobra.Command{
		Use:   "track <video-id>",
		Short: "Set the playback and transcript track IDs of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid video id: %w", err)
			}
			userID, err := uuid.Parse(trackUser)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			a, err := newApp(cmd.Context(), opts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.store.SetVideoTrack(cmd.Context(), videoID, userID, playback, track)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("video %s not found for user %s", videoID, userID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "video %s now reads transcripts from %s/%s\n", videoID, playback, track)
			return nil
		},
	}
	attach.Flags().StringVar(&trackUser, "user", "", "Owner of the video (required)")
	attach.Flags().StringVar(&playback, "playback", "", "Playback ID (required)")
	attach.Flags().StringVar(&track, "track", "", "Text track ID (required)")
	for _, name := range []string{"user", "playback", "track"} {
		_ = attach.MarkFlagRequired(name)
	}

	cmd.AddCommand(create, attach)
	return cmd
}
