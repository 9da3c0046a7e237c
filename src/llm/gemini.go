package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/bluewing-labs/tablevoice/src/convo"
)

// GeminiClient calls the Gemini API through the official SDK
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// GeminiConfig holds configuration for Gemini
type GeminiConfig struct {
	APIKey      string
	Model       string // e.g., "gemini-2.0-flash"
	MaxTokens   int
	Temperature float64
}

// NewGeminiClient creates a new Gemini completion client
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       config.Model,
		maxTokens:   int32(config.MaxTokens),
		temperature: float32(config.Temperature),
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, turns []convo.Turn) (string, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxTokens,
		Temperature:     genai.Ptr(c.temperature),
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case convo.RoleSystem:
			// Gemini takes the persona as a system instruction, not a turn
			cfg.SystemInstruction = genai.NewContentFromText(turn.Content, genai.RoleUser)
		case convo.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Gemini returned an empty reply")
	}
	return text, nil
}
