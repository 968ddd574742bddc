// Package oracle requests trading decisions from a chat-completion model and
// validates them against the decision schema. Malformed output fails the
// call; it is never coerced.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

// ReaderData is one successful reader output passed to the model.
type ReaderData struct {
	ReaderID string          `json:"reader_id"`
	Data     json.RawMessage `json:"data"`
}

// MicroRequest asks for one timeframe's decision.
type MicroRequest struct {
	Symbol        string
	Timeframe     string
	ReaderOutputs []ReaderData
	OpenPositions []models.Position
	Trader        *models.Trader
}

// ComprehensiveRequest asks for the aggregated decision.
type ComprehensiveRequest struct {
	Symbol         string
	MicroDecisions []models.MicroDecision
	OpenPositions  []models.Position
	Trader         *models.Trader
}

// Config holds oracle settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIOracle implements the Decision Oracle over chat completions.
type OpenAIOracle struct {
	client *openai.Client
	cfg    Config
	logger zerolog.Logger
}

// NewOpenAIOracle creates a new oracle client.
func NewOpenAIOracle(cfg Config, logger zerolog.Logger) *OpenAIOracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIOracle{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With().Str("component", "oracle").Logger(),
	}
}

// RequestMicroDecision asks for a single-timeframe decision.
func (o *OpenAIOracle) RequestMicroDecision(ctx context.Context, req MicroRequest) (*models.MicroDecision, error) {
	content, err := o.complete(ctx, "micro_decision", microSystemPrompt, BuildMicroPrompt(req))
	if err != nil {
		return nil, err
	}
	d, err := ParseMicroDecision(content, req.Timeframe)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("oracle", "micro_decision", err)
	}
	return d, nil
}

// RequestComprehensiveDecision asks for the aggregated decision.
func (o *OpenAIOracle) RequestComprehensiveDecision(ctx context.Context, req ComprehensiveRequest) (*models.ComprehensiveDecision, error) {
	content, err := o.complete(ctx, "comprehensive_decision", comprehensiveSystemPrompt, BuildComprehensivePrompt(req))
	if err != nil {
		return nil, err
	}
	d, err := ParseComprehensiveDecision(content)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("oracle", "comprehensive_decision", err)
	}
	return d, nil
}

func (o *OpenAIOracle) complete(ctx context.Context, operation, system, user string) (string, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	o.logger.Debug().Str("operation", operation).Dur("duration", time.Since(start)).Err(err).Msg("Oracle call")

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperrors.NewCollaboratorTimeout("oracle", operation, err)
		}
		return "", apperrors.NewCollaboratorError("oracle", operation, fmt.Errorf("openai completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewCollaboratorError("oracle", operation, fmt.Errorf("no response from openai"))
	}
	return resp.Choices[0].Message.Content, nil
}
