package llm_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/groupmind/internal/llm"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: base, want: false},
		{name: "transient", err: llm.Transient(503, base), want: true},
		{name: "rate limited", err: llm.Transient(429, base), want: true},
		{name: "permanent", err: llm.Permanent(400, base), want: false},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "permanent wrapping deadline", err: llm.Permanent(0, context.DeadlineExceeded), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, llm.IsTransient(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]error{
		400: llm.ErrPermanent,
		401: llm.ErrPermanent,
		403: llm.ErrPermanent,
		404: llm.ErrPermanent,
		408: llm.ErrTransient,
		429: llm.ErrTransient,
		500: llm.ErrTransient,
		503: llm.ErrTransient,
	} {
		assert.Equal(t, want, llm.ClassifyStatus(code), "code %d", code)
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("quota")
	err := fmt.Errorf("generate: %w", llm.Transient(429, base))
	assert.ErrorIs(t, err, llm.ErrTransient)
	assert.ErrorIs(t, err, base)

	var pe *llm.ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
	assert.Contains(t, err.Error(), "code 429")
}
