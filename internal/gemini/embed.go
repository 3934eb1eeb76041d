package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/edgard/groupmind/internal/llm"
)

const (
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// Dimensions returns the configured embedding size.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns the query embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns document embeddings, one per text, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts, taskRetrievalDocument)
}

func (c *Client) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dims := int32(c.dimensions) //nolint:gosec // validated by config
	result, err := c.genaiClient.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
		TaskType:             task,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", classifyError(err))
	}

	return collectVectors(result, len(texts), c.dimensions)
}

func collectVectors(result *genai.EmbedContentResponse, want, dims int) ([][]float32, error) {
	if result == nil || len(result.Embeddings) != want {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, llm.Permanent(0, fmt.Errorf("expected %d embeddings, got %d", want, got))
	}

	vectors := make([][]float32, want)
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) != dims {
			n := 0
			if emb != nil {
				n = len(emb.Values)
			}
			return nil, llm.Permanent(0, fmt.Errorf("%w: embedding %d has %d values, want %d", errWrongDimensions, i, n, dims))
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

var errWrongDimensions = errors.New("unexpected embedding dimensions")
