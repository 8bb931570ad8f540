package vertex

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"insurance-bot/internal/llm"
)

const defaultModel = "gemini-2.0-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Options configures the Gemini client. AccessToken, when set, replaces
// application default credentials.
type Options struct {
	ProjectID   string
	Region      string
	Model       string
	AccessToken string
}

// Client implements llm.NarrativeGenerator on Vertex AI Gemini.
type Client struct {
	model      contentGenerator
	baseClient *genai.Client
}

// NewClient creates a Gemini client configured with the bot's system prompt.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.ProjectID == "" || opts.Region == "" {
		return nil, fmt.Errorf("vertex: project id and region cannot be empty")
	}

	var clientOpts []option.ClientOption
	if token := strings.TrimSpace(opts.AccessToken); token != "" {
		clientOpts = append(clientOpts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	}
	baseClient, err := genai.NewClient(ctx, opts.ProjectID, opts.Region, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	name := opts.Model
	if name == "" {
		name = defaultModel
	}
	model := baseClient.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(llm.SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: genai.Ptr[int32](512),
	}

	return &Client{model: model, baseClient: baseClient}, nil
}

// GenerateNarrative returns the model's text answer to prompt.
func (c *Client) GenerateNarrative(ctx context.Context, userID, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}
	text := extractText(resp)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

var _ llm.NarrativeGenerator = (*Client)(nil)
