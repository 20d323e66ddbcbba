package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/chat"
	"github.com/kailas-cloud/discovery/internal/metrics"
)

const chatProviderName = "openai"

// ChatProvider answers queries through an OpenAI-compatible
// chat-completions API. It produces the conversational reply only; it has
// no card catalogue, so Cards is always empty and HasMore false. Used when
// no discovery gateway is configured (local development, degraded mode).
type ChatProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// ChatProviderConfig holds the chat provider settings.
type ChatProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Logger      *zap.Logger
}

// NewChatProvider creates an OpenAI-compatible chat provider.
func NewChatProvider(cfg *ChatProviderConfig) *ChatProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &ChatProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		logger:      cfg.Logger,
	}
}

// Query implements the session usecase Assistant contract.
func (p *ChatProvider) Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, t := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    roleToOpenAI(t.Role),
			Content: t.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.AssistantRequestsTotal.WithLabelValues(chatProviderName, "error").Inc()
		metrics.AssistantErrorsTotal.WithLabelValues(chatProviderName, "api_error").Inc()
		return domain.QueryResponse{}, parseAPIError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.AssistantRequestsTotal.WithLabelValues(chatProviderName, "error").Inc()
		metrics.AssistantErrorsTotal.WithLabelValues(chatProviderName, "empty_response").Inc()
		return domain.QueryResponse{}, fmt.Errorf("empty completion response: %w", domain.ErrAssistantUnavailable)
	}

	metrics.AssistantRequestsTotal.WithLabelValues(chatProviderName, "success").Inc()
	metrics.AssistantRequestDuration.WithLabelValues(chatProviderName).Observe(duration.Seconds())
	metrics.AssistantCardsReturned.WithLabelValues(chatProviderName).Observe(0)

	return domain.QueryResponse{Answer: resp.Choices[0].Message.Content}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (p *ChatProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func roleToOpenAI(r chat.Role) string {
	switch r {
	case chat.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case chat.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// parseAPIError extracts a human-readable error from the API response.
// All errors wrap domain.ErrAssistantUnavailable for 502 mapping.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), domain.ErrAssistantUnavailable)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, domain.ErrAssistantUnavailable)
	}

	return fmt.Errorf("completion request failed: %w", domain.ErrAssistantUnavailable)
}
