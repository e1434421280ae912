package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Turn is one prior message given to the model as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageRequest is the normalized request sent to a model backend.
type MessageRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	TurnID       string `json:"turn_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	History      []Turn `json:"history,omitempty"`
	InputText    string `json:"message"`
}

// MessageResponse is the final raw text after streaming deltas. It still
// contains any <think> markup the model produced.
type MessageResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments. Returning an error aborts
// the stream.
type DeltaHandler func(delta string) error

// Adapter streams a completion from a reasoning-capable model.
type Adapter interface {
	StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode        string
	BaseURL     string
	APIKey      string
	Model       string
	HTTPURL     string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
	Logger      *log.Logger
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("llm base url is required for openai mode")
		}
		return NewOpenAIAdapter(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	var primary Adapter
	if strings.TrimSpace(cfg.BaseURL) != "" {
		primary = NewOpenAIAdapter(cfg)
	}

	var secondary Adapter
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		secondary = NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout)
	}

	switch {
	case primary != nil && secondary != nil:
		return NewFallbackAdapter(primary, secondary)
	case primary != nil:
		return primary
	case secondary != nil:
		return secondary
	default:
		cfg.Logger.Warn("no llm endpoint configured, using mock replies")
		return NewMockAdapter()
	}
}
