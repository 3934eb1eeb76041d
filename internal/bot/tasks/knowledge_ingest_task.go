package tasks

import (
	"context"
	"fmt"
	"time"
)

// newKnowledgeIngestTask creates the task that turns recent group history
// into knowledge chunks.
func newKnowledgeIngestTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", KnowledgeIngest)

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting knowledge ingestion")
		startTime := time.Now()

		results, err := deps.Ingester.IngestAll(ctx)

		var ingested, skipped, topics int
		for _, r := range results {
			if r.Skipped {
				skipped++
				continue
			}
			ingested++
			topics += r.Topics
		}
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Knowledge ingestion finished with errors",
				"error", err, "groups_ingested", ingested, "duration", duration)
			return fmt.Errorf("knowledge ingestion failed: %w", err)
		}

		log.InfoContext(ctx, "Knowledge ingestion completed",
			"groups_ingested", ingested,
			"groups_skipped", skipped,
			"topics", topics,
			"duration", duration,
		)
		return nil
	}
}
