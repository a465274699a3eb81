package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vocab-worker/internal/config"
	"github.com/adverant/nexus/vocab-worker/internal/queue"
)

func newEnqueueCmd() *cobra.Command {
	var (
		imagePath string
		imageURL  string
		payload   queue.JobPayload
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a page job to the worker queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (imagePath == "") == (imageURL == "") {
				return fmt.Errorf("exactly one of --image or --url is required")
			}
			if payload.ChapterID == "" {
				return fmt.Errorf("--chapter is required")
			}

			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				payload.ImageBuffer = data
			}
			payload.ImageURL = imageURL
			if payload.JobID == "" {
				payload.JobID = uuid.New().String()
			}

			cfg := config.Load()
			redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("failed to parse Redis URL: %w", err)
			}
			client := asynq.NewClient(redisOpt)
			defer client.Close()

			info, err := queue.Enqueue(cmd.Context(), client, cfg.QueueName, &payload)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %s on %s (state=%s)\n", info.ID, info.Queue, info.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "page image file to send inline")
	cmd.Flags().StringVar(&imageURL, "url", "", "page image URL for the worker to download")
	cmd.Flags().StringVar(&payload.ChapterID, "chapter", "", "chapter ID")
	cmd.Flags().IntVar(&payload.PageNumber, "page", 1, "page number within the chapter")
	cmd.Flags().StringVar(&payload.UserID, "user", "", "submitting user ID")
	cmd.Flags().StringVar(&payload.JobID, "job", "", "job ID (default: new UUID)")

	return cmd
}
