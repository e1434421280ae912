package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bfalabs/bfa-assistant/internal/chat"
	"github.com/bfalabs/bfa-assistant/internal/observability"
	"github.com/bfalabs/bfa-assistant/internal/session"
)

// Transports used as the chat_turns metric label.
const (
	transportHTTP = "http"
	transportSSE  = "sse"
	transportWS   = "ws"
)

// Server-sent event names of POST /chat/events.
const (
	EventThinkingStart = "thinking_start"
	EventThinking      = "thinking"
	EventThinkingEnd   = "thinking_end"
	EventReply         = "reply"
	EventError         = "error"
	EventDone          = "done"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type textEvent struct {
	Text string `json:"text"`
}

type doneEvent struct {
	TurnID       string `json:"turn_id"`
	Reason       string `json:"reason"`
	Reply        string `json:"reply"`
	Thinking     string `json:"thinking,omitempty"`
	Unterminated bool   `json:"unterminated,omitempty"`
}

type chatErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// turn is one chat turn bound to an optional session.
type turn struct {
	id        string
	sessionID string
	personID  string
	message   string
}

func (t turn) request() chat.Request {
	return chat.Request{
		SessionID: t.sessionID,
		PersonID:  t.personID,
		TurnID:    t.id,
		Message:   t.message,
	}
}

// beginTurn validates the request and claims the session's single turn slot.
// The returned release func must be called when the turn ends.
func (s *Server) beginTurn(req chatRequest) (turn, func(), error) {
	t := turn{
		id:        uuid.NewString(),
		sessionID: strings.TrimSpace(req.SessionID),
		message:   strings.TrimSpace(req.Message),
	}
	if t.message == "" {
		return t, nil, chat.ErrEmptyMessage
	}
	if t.sessionID == "" {
		return t, func() {}, nil
	}
	sess, err := s.sessions.Get(t.sessionID)
	if err != nil {
		return t, nil, err
	}
	t.personID = sess.PersonID
	if err := s.sessions.StartTurn(t.sessionID, t.id); err != nil {
		return t, nil, err
	}
	return t, func() { s.sessions.EndTurn(t.sessionID, t.id) }, nil
}

// finishTurn appends the user message and the assistant reply to the
// session transcript.
func (s *Server) finishTurn(t turn, reply, thinking string) {
	if reply == chat.FallbackReply {
		s.metrics.Stages.ObserveIndicator(observability.IndicatorFallbackReply)
	}
	if t.sessionID == "" {
		return
	}
	_, err := s.sessions.Append(t.sessionID,
		session.Entry{Role: "user", Kind: "text", Content: t.message},
		session.Entry{Role: "assistant", Kind: "text", Content: reply, Thinking: thinking},
	)
	if err != nil {
		s.logger.Warn("append chat transcript", "session_id", t.sessionID, "err", err)
	}
}

func turnOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "completed"
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "failed"
	}
}

// handleChat streams the raw model text, <think> tags included, as a
// chunked plain-text body. Upstream failures end the body with the fallback
// reply so the client always receives text.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	t, release, err := s.beginTurn(req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	defer release()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	res, err := s.chat.StreamRaw(ctx, t.request(), func(delta string) error {
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	outcome := turnOutcome(ctx, err)
	if outcome == "failed" {
		_, _ = io.WriteString(w, chat.FallbackReply)
		if flusher != nil {
			flusher.Flush()
		}
		res.Reply = chat.FallbackReply
	}
	s.metrics.ChatTurns.WithLabelValues(transportHTTP, outcome).Inc()
	s.finishTurn(t, res.Reply, res.Thinking)
}

type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) event(name string, v any) error {
	data := []byte("{}")
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = raw
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseSink) ThinkingStarted() error { return s.event(EventThinkingStart, nil) }
func (s *sseSink) ThinkingDone() error    { return s.event(EventThinkingEnd, nil) }

func (s *sseSink) ThinkingDelta(text string) error {
	return s.event(EventThinking, textEvent{Text: text})
}

func (s *sseSink) ReplyDelta(text string) error {
	return s.event(EventReply, textEvent{Text: text})
}

// handleChatEvents streams the split reply as server-sent events.
func (s *Server) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	t, release, err := s.beginTurn(req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	defer release()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: w, flusher: flusher}
	ctx := r.Context()
	res, err := s.chat.StreamSplit(ctx, t.request(), sink)
	outcome := turnOutcome(ctx, err)
	reply := res.Reply
	if outcome == "failed" {
		_ = sink.event(EventError, chatErrorEvent{Code: "upstream_unavailable", Message: chat.FallbackReply})
		reply = chat.FallbackReply
	}
	if outcome != "cancelled" {
		_ = sink.event(EventDone, doneEvent{
			TurnID:       t.id,
			Reason:       outcome,
			Reply:        reply,
			Thinking:     res.Thinking,
			Unterminated: res.Unterminated,
		})
	}
	s.metrics.ChatTurns.WithLabelValues(transportSSE, outcome).Inc()
	s.finishTurn(t, reply, res.Thinking)
}
