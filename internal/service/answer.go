package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/andrei/vidseek/internal/domain"
)

const answerSystemPrompt = "You analyze video clips retrieved for a user's question. " +
	"Answer using only the clip context given; cite clip time ranges where relevant. " +
	"If the clips do not contain the answer, say so."

// AnswerService phrases a natural-language answer over ranked clips using an
// OpenAI-compatible chat completion API.
type AnswerService struct {
	client   *resty.Client
	model    string
	endpoint string
}

// AnswerConfig holds configuration for the answer service.
type AnswerConfig struct {
	Model   string
	APIKey  string
	BaseURL string
}

// NewAnswerService creates a new answer service.
func NewAnswerService(cfg *AnswerConfig) *AnswerService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(60 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &AnswerService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// GetModel returns the model name being used.
func (s *AnswerService) GetModel() string {
	return s.model
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Answer generates an answer to the query grounded in the given ranked
// clips.
func (s *AnswerService) Answer(ctx context.Context, query string, results []domain.ScoredClip) (string, error) {
	if len(results) == 0 {
		return "", fmt.Errorf("no clips to answer from")
	}

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: buildAnswerPrompt(query, results)},
		},
		MaxTokens:   500,
		Temperature: 0.7,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", fmt.Errorf("failed to call answer API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("answer API error: HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("answer API error: HTTP %d", httpResp.StatusCode())
	}

	if resp.Error != nil {
		return "", fmt.Errorf("answer API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in answer API response")
	}

	return resp.Choices[0].Message.Content, nil
}

// buildAnswerPrompt flattens ranked clips into a numbered context block.
func buildAnswerPrompt(query string, results []domain.ScoredClip) string {
	var b strings.Builder
	b.WriteString("Analyze the video content and answer the question.\n\nContext:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "Clip %d:\n", i+1)
		fmt.Fprintf(&b, "Source: %s\n", r.Metadata.SourceVideo)
		fmt.Fprintf(&b, "Time: %.1f-%.1f\n", r.Metadata.StartTime, r.Metadata.EndTime)
		if r.Metadata.Description != "" {
			fmt.Fprintf(&b, "Visual: %s\n", r.Metadata.Description)
		}
		if r.Metadata.Transcript != "" {
			fmt.Fprintf(&b, "Transcript: %s\n", r.Metadata.Transcript)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", query)
	return b.String()
}
