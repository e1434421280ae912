// Package chat runs one assistant chat turn: it loads recent history, calls
// the model adapter and splits the streamed reply into thinking and reply
// channels.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/bfalabs/bfa-assistant/internal/chatlog"
	"github.com/bfalabs/bfa-assistant/internal/llm"
	"github.com/bfalabs/bfa-assistant/internal/observability"
	"github.com/bfalabs/bfa-assistant/internal/policy"
	"github.com/bfalabs/bfa-assistant/internal/reliability"
	"github.com/bfalabs/bfa-assistant/internal/thinkstream"
)

// FallbackReply is shown in place of a reply when the model cannot be reached.
const FallbackReply = "对不起，我在连接AI模型时遇到了一个网络问题。请检查Ollama服务是否正在运行，或者网络代理设置是否正确。"

const (
	historyLoadTimeout = 2 * time.Second
	turnSaveTimeout    = 3 * time.Second
	defaultHistory     = 8
)

var ErrEmptyMessage = errors.New("message is empty")

// Request is a single user message.
type Request struct {
	SessionID string
	PersonID  string
	TurnID    string
	Message   string
}

// Sink receives split stream events in order. ThinkingStarted and
// ThinkingDone bracket every thinking block, including one left open by an
// unterminated <think>, which is closed after the stream ends.
type Sink interface {
	ThinkingStarted() error
	ThinkingDelta(text string) error
	ThinkingDone() error
	ReplyDelta(text string) error
}

// Result is the outcome of a finished turn.
type Result struct {
	TurnID   string
	Raw      string
	Reply    string
	Thinking string
	// Unterminated is set when the stream ended inside a <think> block.
	Unterminated bool
}

type Config struct {
	Adapter      llm.Adapter
	Store        chatlog.Store
	SystemPrompt string
	HistoryTurns int
	Logger       *log.Logger
	Metrics      *observability.Metrics
	// SplitterOptions are passed to every splitter StreamSplit creates.
	SplitterOptions []thinkstream.Option
}

type Service struct {
	adapter      llm.Adapter
	store        chatlog.Store
	systemPrompt string
	historyTurns int
	logger       *log.Logger
	metrics      *observability.Metrics
	splitterOpts []thinkstream.Option
	now          func() time.Time
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	turns := cfg.HistoryTurns
	if turns < 0 {
		turns = 0
	} else if turns == 0 {
		turns = defaultHistory
	}
	return &Service{
		adapter:      cfg.Adapter,
		store:        cfg.Store,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		historyTurns: turns,
		logger:       logger.WithPrefix("chat"),
		metrics:      cfg.Metrics,
		splitterOpts: cfg.SplitterOptions,
		now:          time.Now,
	}
}

// StreamRaw forwards model text unchanged, <think> tags included.
func (s *Service) StreamRaw(ctx context.Context, req Request, onDelta llm.DeltaHandler) (Result, error) {
	return s.run(ctx, req, onDelta, nil)
}

// StreamSplit classifies the model stream and reports it to sink. On error
// the partial result accumulated so far is returned with the error.
func (s *Service) StreamSplit(ctx context.Context, req Request, sink Sink) (Result, error) {
	return s.run(ctx, req, nil, sink)
}

func (s *Service) run(ctx context.Context, req Request, onDelta llm.DeltaHandler, sink Sink) (Result, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Result{}, ErrEmptyMessage
	}
	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}
	if s.adapter == nil {
		return Result{TurnID: req.TurnID}, errors.New("chat: no model adapter configured")
	}

	start := s.now()
	history := s.loadHistory(ctx, req.SessionID)
	s.saveTurn(req, chatlog.RoleUser, message)

	var (
		raw       strings.Builder
		reply     strings.Builder
		thinking  strings.Builder
		sinkErr   error
		firstSeen = map[string]bool{}
	)
	observe := func(channel string) {
		if s.metrics == nil {
			return
		}
		s.metrics.StreamedFragments.WithLabelValues(channel).Inc()
		if !firstSeen[channel] {
			firstSeen[channel] = true
			s.metrics.ObserveFirstFragment(channel, s.now().Sub(start))
		}
	}

	var splitter *thinkstream.Splitter
	if sink != nil {
		opts := append([]thinkstream.Option{}, s.splitterOpts...)
		opts = append(opts, thinkstream.WithStateHook(func(from, to thinkstream.State) {
			if sinkErr != nil {
				return
			}
			if to == thinkstream.StateThinking {
				sinkErr = sink.ThinkingStarted()
			} else {
				sinkErr = sink.ThinkingDone()
			}
		}))
		splitter = thinkstream.New(
			func(text string) {
				reply.WriteString(text)
				observe(observability.ChannelReply)
				if sinkErr == nil {
					sinkErr = sink.ReplyDelta(text)
				}
			},
			func(text string) {
				thinking.WriteString(text)
				observe(observability.ChannelThinking)
				if sinkErr == nil {
					sinkErr = sink.ThinkingDelta(text)
				}
			},
			opts...,
		)
	}

	_, err := s.adapter.StreamResponse(ctx, llm.MessageRequest{
		SessionID:    req.SessionID,
		TurnID:       req.TurnID,
		SystemPrompt: s.systemPrompt,
		History:      history,
		InputText:    message,
	}, func(delta string) error {
		raw.WriteString(delta)
		if splitter != nil {
			splitter.Feed(delta)
			return sinkErr
		}
		observe(observability.ChannelReply)
		if onDelta != nil {
			return onDelta(delta)
		}
		return nil
	})

	if splitter != nil {
		splitter.Finish()
	}
	res := Result{
		TurnID:   req.TurnID,
		Raw:      raw.String(),
		Reply:    reply.String(),
		Thinking: thinking.String(),
	}
	if splitter == nil {
		res.Reply, res.Thinking = thinkstream.Split(res.Raw)
	} else if splitter.State() == thinkstream.StateThinking {
		res.Unterminated = true
		if s.metrics != nil {
			s.metrics.Stages.ObserveIndicator(observability.IndicatorUnterminatedThinking)
		}
		if sinkErr == nil && err == nil {
			sinkErr = sink.ThinkingDone()
		}
	}

	if sinkErr != nil {
		return res, sinkErr
	}
	if err != nil {
		s.recordProviderError(err)
		s.logger.Warn("model stream failed", "session_id", req.SessionID, "turn_id", req.TurnID, "err", err)
		return res, err
	}
	if s.metrics != nil {
		s.metrics.Stages.Observe(observability.StageTurnTotal, float64(s.now().Sub(start).Milliseconds()))
	}
	s.saveTurn(req, chatlog.RoleAssistant, strings.TrimSpace(res.Reply))
	return res, nil
}

func (s *Service) loadHistory(ctx context.Context, sessionID string) []llm.Turn {
	if s.store == nil || sessionID == "" || s.historyTurns == 0 {
		return nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, historyLoadTimeout)
	defer cancel()
	records, err := s.store.RecentTurns(loadCtx, sessionID, s.historyTurns)
	if err != nil {
		s.logger.Warn("load chat history", "session_id", sessionID, "err", err)
		if s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("history_load_failed").Inc()
		}
		return nil
	}
	turns := make([]llm.Turn, 0, len(records))
	for _, r := range records {
		turns = append(turns, llm.Turn{Role: r.Role, Content: r.Content})
	}
	return turns
}

// saveTurn persists a redacted turn. Failures are logged and counted but do
// not fail the chat turn.
func (s *Service) saveTurn(req Request, role, content string) {
	if s.store == nil || req.SessionID == "" || content == "" {
		return
	}
	redacted, changed := policy.RedactPII(content)
	saveCtx, cancel := context.WithTimeout(context.Background(), turnSaveTimeout)
	defer cancel()
	err := s.store.SaveTurn(saveCtx, chatlog.TurnRecord{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		PersonID:    req.PersonID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("save chat turn", "session_id", req.SessionID, "role", role, "err", err)
		if s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("chatlog_save_failed").Inc()
		}
	}
}

func (s *Service) recordProviderError(err error) {
	if s.metrics == nil {
		return
	}
	code := "error"
	var statusErr *reliability.StatusError
	switch {
	case errors.Is(err, context.Canceled):
		code = "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case errors.As(err, &statusErr):
		code = strconv.Itoa(statusErr.StatusCode)
	}
	s.metrics.ProviderErrors.WithLabelValues(providerName(s.adapter), code).Inc()
}

func providerName(a llm.Adapter) string {
	switch a.(type) {
	case *llm.OpenAIAdapter:
		return "openai"
	case *llm.HTTPAdapter:
		return "http"
	case *llm.FallbackAdapter:
		return "fallback"
	case *llm.MockAdapter:
		return "mock"
	default:
		return "custom"
	}
}
