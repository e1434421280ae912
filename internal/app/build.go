package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/bfalabs/bfa-assistant/internal/chat"
	"github.com/bfalabs/bfa-assistant/internal/chatlog"
	"github.com/bfalabs/bfa-assistant/internal/config"
	"github.com/bfalabs/bfa-assistant/internal/httpapi"
	"github.com/bfalabs/bfa-assistant/internal/llm"
	"github.com/bfalabs/bfa-assistant/internal/measurement"
	"github.com/bfalabs/bfa-assistant/internal/observability"
	"github.com/bfalabs/bfa-assistant/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Workflow *measurement.Workflow
	Chat     *chat.Service
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB pools).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	lib, err := measurement.LoadLibrary(cfg.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("baseline library load failed: %w", err)
	}

	chatStore, err := chatlog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("chat log store init failed: %w", err)
	}

	store, err := measurement.NewStore(ctx, cfg.DatabaseURL, lib)
	if err != nil {
		_ = chatStore.Close()
		return nil, fmt.Errorf("measurement store init failed: %w", err)
	}

	adapter, err := llm.NewAdapter(llm.Config{
		Mode:        cfg.LLMMode,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		HTTPURL:     cfg.LLMHTTPURL,
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
		Temperature: cfg.LLMTemperature,
		Logger:      logger,
	})
	if err != nil {
		_ = store.Close()
		_ = chatStore.Close()
		return nil, fmt.Errorf("llm adapter init failed: %w", err)
	}

	workflow := measurement.NewWorkflow(store, store, logger)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		workflow.Reset(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	historyTurns := cfg.ChatHistoryTurns
	if historyTurns == 0 {
		// chat treats zero as "use the default".
		historyTurns = -1
	}
	chatService := chat.NewService(chat.Config{
		Adapter:      adapter,
		Store:        chatStore,
		SystemPrompt: cfg.SystemPrompt,
		HistoryTurns: historyTurns,
		Logger:       logger,
		Metrics:      metrics,
	})

	api := httpapi.New(httpapi.Deps{
		Config:   cfg,
		Sessions: sessions,
		Chat:     chatService,
		Store:    store,
		Workflow: workflow,
		ChatLog:  chatStore,
		Metrics:  metrics,
		Logger:   logger,
	})

	cleanup := func() error {
		return errors.Join(store.Close(), chatStore.Close())
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Workflow: workflow,
		Chat:     chatService,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
