// Package llm rates short answers with an OpenAI-compatible chat API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/mdquiz/internal/grading"
)

const systemPrompt = "You are an exam grader. Follow the scoring rules exactly and reply with JSON only."

// Config holds connection settings. Model and Temperature are defaults that
// an exam or question may override per request.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float64
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.model
}

// Ping checks that the endpoint answers with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping: %w", mapOpenAIError(err))
	}
	return nil
}

// Rate sends one grading prompt and parses the score from the reply.
// Replies that cannot be parsed come back as *grading.RatingError so the
// engine retries them once.
func (c *Client) Rate(ctx context.Context, req grading.RateRequest) (grading.Rating, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return grading.Rating{}, &grading.PermanentError{Err: errors.New("no LLM model configured")}
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: float32(temperature),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return grading.Rating{}, ctxErr
		}
		return grading.Rating{}, fmt.Errorf("LLM API call: %w", mapOpenAIError(err))
	}

	if len(resp.Choices) == 0 {
		return grading.Rating{}, &grading.RatingError{Err: &ErrInvalidResponse{Err: errors.New("no choices in response")}}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", req.QuestionID, "model", model, "raw", raw)

	r, err := parseRating(raw)
	if err != nil {
		return grading.Rating{}, &grading.RatingError{Raw: raw, Err: err}
	}
	return grading.Rating{Score: r.Score, Reason: r.Reason, Raw: raw}, nil
}
