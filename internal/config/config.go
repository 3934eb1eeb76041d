// Package config loads groupmind configuration from a YAML file, GROUPMIND_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration wraps every load or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Knowledge retrieval policies applied when the embedding service fails.
const (
	KnowledgeBestEffort = "best_effort"
	KnowledgeRequired   = "required"
)

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig configures the bot account. Webhook mode is used when
// WebhookURL is set, long polling otherwise.
type TelegramConfig struct {
	Token         string   `mapstructure:"token"          validate:"required"`
	WebhookURL    string   `mapstructure:"webhook_url"    validate:"omitempty,url"`
	WebhookAddr   string   `mapstructure:"webhook_addr"   validate:"required_with=WebhookURL"`
	WebhookSecret string   `mapstructure:"webhook_secret"`
	Aliases       []string `mapstructure:"aliases"        validate:"dive,required"`
}

type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"              validate:"required"`
	Model               string  `mapstructure:"model"                validate:"required"`
	EmbeddingModel      string  `mapstructure:"embedding_model"      validate:"required"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions" validate:"required,gt=0,lte=3072"`
	Temperature         float32 `mapstructure:"temperature"          validate:"gte=0,lte=2"`
	SystemInstruction   string  `mapstructure:"system_instruction"   validate:"required"`
}

// PipelineConfig bounds one run of the inbound message pipeline.
type PipelineConfig struct {
	HistoryWindow      int           `mapstructure:"history_window"      validate:"gte=0,lte=500"`
	TopK               int           `mapstructure:"top_k"               validate:"gte=0,lte=50"`
	QueryRollup        int           `mapstructure:"query_rollup"        validate:"gte=0,lte=20"`
	MaxContextChars    int           `mapstructure:"max_context_chars"   validate:"required,gte=256"`
	MaxReplyChars      int           `mapstructure:"max_reply_chars"     validate:"required,gt=0,lte=4096"`
	ProcessingDeadline time.Duration `mapstructure:"processing_deadline" validate:"required,min=1s"`
	KnowledgePolicy    string        `mapstructure:"knowledge_policy"    validate:"required,oneof=best_effort required"`
	IndexOnAppend      bool          `mapstructure:"index_on_append"`
}

// RetryConfig is the shared policy for provider and embedding calls.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"  validate:"required,gte=1,lte=10"`
	BaseDelay    time.Duration `mapstructure:"base_delay"    validate:"required,min=1ms"`
	MaxDelay     time.Duration `mapstructure:"max_delay"     validate:"required,gtefield=BaseDelay"`
	Jitter       float64       `mapstructure:"jitter"        validate:"gte=0,lte=1"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"  validate:"required,min=1s"`
	EmbedTimeout time.Duration `mapstructure:"embed_timeout" validate:"required,min=100ms"`
}

type BreakerConfig struct {
	MaxFailures   int           `mapstructure:"max_failures"   validate:"required,gte=1"`
	ResetInterval time.Duration `mapstructure:"reset_interval" validate:"required,min=1s"`
}

type DispatchConfig struct {
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"required,min=100ms"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"  validate:"gte=0"`
}

type IngestConfig struct {
	Lookback    time.Duration `mapstructure:"lookback"     validate:"required,min=1m"`
	BatchSize   int           `mapstructure:"batch_size"   validate:"required,gte=1,lte=250"`
	MinMessages int           `mapstructure:"min_messages" validate:"gte=1"`
	MaxMessages int           `mapstructure:"max_messages" validate:"required,gtefield=MinMessages"`
	Concurrency int           `mapstructure:"concurrency"  validate:"gte=1,lte=16"`
}

// SummaryConfig bounds group recaps. Window is how far back both the
// scheduled summary and the /summary command look.
type SummaryConfig struct {
	Window      time.Duration `mapstructure:"window"       validate:"required,min=1h"`
	MinMessages int           `mapstructure:"min_messages" validate:"gte=1"`
	MaxMessages int           `mapstructure:"max_messages" validate:"required,gtefield=MinMessages"`
	MaxChars    int           `mapstructure:"max_chars"    validate:"required,gt=0,lte=4096"`
	Concurrency int           `mapstructure:"concurrency"  validate:"gte=1,lte=16"`
	// Command enables the /summary command in groups.
	Command bool `mapstructure:"command"`
}

type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}
