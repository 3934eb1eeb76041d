package pipeline

import (
	"context"
	"errors"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/resilience"
)

var (
	// ErrGenerationUnavailable means no usable reply could be produced.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrKnowledgeUnavailable is returned by the assembler when knowledge
	// retrieval fails under the required policy.
	ErrKnowledgeUnavailable = errors.New("knowledge unavailable")
	// ErrSendFailed means the outbound client rejected the reply twice.
	ErrSendFailed = errors.New("send failed")
	// ErrRecordFailed means a reply was delivered but could not be stored.
	ErrRecordFailed = errors.New("record outbound message failed")
)

// ErrorKind maps err to a stable label for the error_kind log attribute.
// The most specific cause wins.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, database.ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	case errors.Is(err, ErrRecordFailed):
		return "record_failed"
	case errors.Is(err, ErrKnowledgeUnavailable):
		return "knowledge_unavailable"
	case errors.Is(err, llm.ErrPermanent):
		return "permanent_provider"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, database.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, llm.ErrTransient):
		return "transient_provider"
	default:
		return "unknown"
	}
}
