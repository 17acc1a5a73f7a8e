package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/carebridge/interp/pkg/core/types"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiSummarizer summarizes via the Gemini API with a JSON response type.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiSummarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: model, logger: logger}, nil
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, turns []types.ConversationTurn) (Result, error) {
	transcript := RenderTranscript(turns)
	if strings.TrimSpace(transcript) == "" {
		return Result{}, fmt.Errorf("transcript is empty")
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(transcript), &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return Result{}, fmt.Errorf("summarization request: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("summarization response is empty")
	}
	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Result{}, fmt.Errorf("parse summary JSON: %w", err)
	}
	if err := validateResult(result); err != nil {
		return Result{}, err
	}
	s.logger.Debug("summarized conversation", "model", s.model, "actionables", len(result.Actionables))
	return result, nil
}
