package tasks

import (
	"context"
	"fmt"
	"time"
)

// newGroupSummaryTask creates the task that posts a recap of the day to every
// group with enough new conversation.
func newGroupSummaryTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", GroupSummary)

	return func(ctx context.Context) error {
		if deps.Summarizer == nil {
			log.WarnContext(ctx, "Group summaries are not configured, skipping")
			return nil
		}
		log.InfoContext(ctx, "Starting group summaries")
		startTime := time.Now()

		results, err := deps.Summarizer.SummarizeAll(ctx)

		var posted, skipped int
		for _, r := range results {
			if r.Skipped {
				skipped++
				continue
			}
			posted++
		}
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Group summaries finished with errors",
				"error", err, "groups_posted", posted, "duration", duration)
			return fmt.Errorf("group summaries failed: %w", err)
		}

		log.InfoContext(ctx, "Group summaries completed",
			"groups_posted", posted,
			"groups_skipped", skipped,
			"duration", duration,
		)
		return nil
	}
}
