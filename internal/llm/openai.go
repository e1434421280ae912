package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bfalabs/bfa-assistant/internal/reliability"
)

// OpenAIAdapter streams chat completions from an OpenAI-compatible endpoint
// such as Ollama's /v1 API.
type OpenAIAdapter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *log.Logger
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &OpenAIAdapter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxRetries:  cfg.MaxRetries,
		backoffBase: 250 * time.Millisecond,
		backoffCap:  4 * time.Second,
		logger:      logger.WithPrefix("llm"),
	}
}

func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	stream, err := a.openStream(ctx, req)
	if err != nil {
		return MessageResponse{}, err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return MessageResponse{}, fmt.Errorf("stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return MessageResponse{}, err
			}
		}
	}
	return MessageResponse{Text: out.String()}, nil
}

// openStream retries only while nothing has been streamed yet.
func (a *OpenAIAdapter) openStream(ctx context.Context, req MessageRequest) (*openai.ChatCompletionStream, error) {
	request := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    buildMessages(req),
		Temperature: a.temperature,
		Stream:      true,
	}
	for attempt := 0; ; attempt++ {
		stream, err := a.client.CreateChatCompletionStream(ctx, request)
		if err == nil {
			return stream, nil
		}
		if attempt >= a.maxRetries || !reliability.IsRetryable(err) {
			return nil, fmt.Errorf("open stream: %w", err)
		}
		wait := reliability.ExponentialBackoff(attempt, a.backoffBase, a.backoffCap)
		a.logger.Warn("open stream failed, retrying", "attempt", attempt+1, "wait", wait, "err", err)
		if err := reliability.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func buildMessages(req MessageRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.InputText,
	})
}
