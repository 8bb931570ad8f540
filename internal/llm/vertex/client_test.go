package vertex

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-bot/internal/llm"
)

type fakeModel struct {
	resp   *genai.GenerateContentResponse
	err    error
	prompt string
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if len(parts) > 0 {
		if txt, ok := parts[0].(genai.Text); ok {
			f.prompt = string(txt)
		}
	}
	return f.resp, f.err
}

func response(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestGenerateNarrativeJoinsTextParts(t *testing.T) {
	m := &fakeModel{resp: response(genai.Text("Safe "), genai.Text("travels. "))}
	c := &Client{model: m}

	text, err := c.GenerateNarrative(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Safe travels.", text)
	assert.Equal(t, "hello", m.prompt)
}

func TestGenerateNarrativeEmptyResponse(t *testing.T) {
	c := &Client{model: &fakeModel{resp: &genai.GenerateContentResponse{}}}
	_, err := c.GenerateNarrative(context.Background(), "u1", "hello")
	require.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestGenerateNarrativeWrapsProviderError(t *testing.T) {
	boom := errors.New("unavailable")
	c := &Client{model: &fakeModel{err: boom}}
	_, err := c.GenerateNarrative(context.Background(), "u1", "hello")
	require.ErrorIs(t, err, boom)
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), Options{Region: "us-central1"})
	require.Error(t, err)
}
