// Package llm defines the provider-neutral contract for text generation and
// embeddings, and the error classification the retry policy relies on.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Role of a dialogue turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of the rendered dialogue.
type Turn struct {
	Role Role
	Text string
}

// Prompt is a complete generation request.
type Prompt struct {
	System string
	Turns  []Turn
	// JSON asks the provider for a JSON document instead of prose.
	JSON bool
}

// Provider generates text for a prompt.
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Embedder turns text into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits, 5xx.
	ErrTransient = errors.New("transient provider error")
	// ErrPermanent marks failures that will not go away on retry.
	ErrPermanent = errors.New("permanent provider error")
)

// ProviderError carries the classification and status code of a provider failure.
type ProviderError struct {
	Kind error
	Code int
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%v (code %d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Transient wraps err as a retryable provider failure.
func Transient(code int, err error) error {
	return &ProviderError{Kind: ErrTransient, Code: code, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(code int, err error) error {
	return &ProviderError{Kind: ErrPermanent, Code: code, Err: err}
}

// ClassifyStatus maps an HTTP status code to ErrTransient or ErrPermanent.
func ClassifyStatus(code int) error {
	switch {
	case code == 408 || code == 429:
		return ErrTransient
	case code >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// IsTransient reports whether err should be retried. Unclassified timeouts
// and network errors count as transient; caller cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
