package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultResponderModelName = "gemini-1.5-flash-latest"

	responderSystemInstruction = "You are a concise assistant. Answer the user's question directly. " +
		"Do not make up information; if you are not sure, say so."
)

// LLMService generates a fresh response for a cache miss. It is an optional
// collaborator: the cache engine never depends on it, and the server runs
// without it when no API key is configured.
type LLMService struct {
	client *genai.Client
}

func NewLLMService(ctx context.Context, apiKey string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client}, nil
}

func (s *LLMService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// GenerateResponse answers a single query with no conversation history.
func (s *LLMService) GenerateResponse(ctx context.Context, query string) (string, error) {
	model := s.client.GenerativeModel(defaultResponderModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(responderSystemInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(query))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text parts")
	}
	return strings.TrimSpace(out.String()), nil
}
