// Package tasks implements the scheduled background jobs of the bot.
package tasks

import "context"

// ScheduledTaskFunc is the signature of every scheduled task. The context is
// cancelled when the scheduler shuts down.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names as used in the scheduler.tasks configuration section.
const (
	SQLMaintenance  = "sql_maintenance"
	KnowledgeIngest = "knowledge_ingest"
	GroupSummary    = "group_summary"
)

// RegisterAllTasks returns every task keyed by its configuration name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		SQLMaintenance:  newSQLMaintenanceTask(deps),
		KnowledgeIngest: newKnowledgeIngestTask(deps),
		GroupSummary:    newGroupSummaryTask(deps),
	}
	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
