package config

import "time"

const defaultSystemInstruction = `You are a helpful member of this group chat.
Answer the latest message that addressed you, in the language it was written in.
Use the conversation and the reference notes when they are relevant; never invent facts that are not in them.
Keep replies short and conversational. Do not prefix your reply with names, timestamps or quotes.`

var defaults = map[string]any{
	"log.level": "info",
	"log.json":  true,

	"database.path": "groupmind.db",

	"telegram.webhook_addr": ":8443",

	"gemini.model":                "gemini-2.0-flash",
	"gemini.embedding_model":      "text-embedding-004",
	"gemini.embedding_dimensions": 768,
	"gemini.temperature":          0.7,
	"gemini.system_instruction":   defaultSystemInstruction,

	"pipeline.history_window":      20,
	"pipeline.top_k":               5,
	"pipeline.query_rollup":        3,
	"pipeline.max_context_chars":   12000,
	"pipeline.max_reply_chars":     4096,
	"pipeline.processing_deadline": 2 * time.Minute,
	"pipeline.knowledge_policy":    KnowledgeBestEffort,
	"pipeline.index_on_append":     false,

	"retry.max_attempts":  4,
	"retry.base_delay":    500 * time.Millisecond,
	"retry.max_delay":     8 * time.Second,
	"retry.jitter":        0.2,
	"retry.call_timeout":  45 * time.Second,
	"retry.embed_timeout": 10 * time.Second,

	"breaker.max_failures":   5,
	"breaker.reset_interval": time.Minute,

	"dispatch.send_timeout": 10 * time.Second,
	"dispatch.retry_delay":  500 * time.Millisecond,

	"ingest.lookback":     48 * time.Hour,
	"ingest.batch_size":   128,
	"ingest.min_messages": 5,
	"ingest.max_messages": 2000,
	"ingest.concurrency":  2,

	"summary.window":       24 * time.Hour,
	"summary.min_messages": 7,
	"summary.max_messages": 1000,
	"summary.max_chars":    4096,
	"summary.concurrency":  2,
	"summary.command":      true,

	"scheduler.tasks": map[string]any{
		"knowledge_ingest": map[string]any{"enabled": true, "schedule": "0 3 * * *"},
		"sql_maintenance":  map[string]any{"enabled": true, "schedule": "0 4 * * 0"},
		"group_summary":    map[string]any{"enabled": false, "schedule": "0 21 * * *"},
	},
}
