package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfalabs/bfa-assistant/internal/chat"
	"github.com/bfalabs/bfa-assistant/internal/protocol"
	"github.com/bfalabs/bfa-assistant/internal/reliability"
	"github.com/bfalabs/bfa-assistant/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 1 << 20
)

// wsSink turns splitter events into websocket messages.
type wsSink struct {
	send      func(any) bool
	sessionID string
	turnID    string
	started   bool
}

func (s *wsSink) emit(msg any) error {
	if !s.send(msg) {
		return context.Canceled
	}
	return nil
}

func (s *wsSink) ThinkingStarted() error {
	s.started = true
	return nil
}

func (s *wsSink) ThinkingDelta(text string) error {
	started := s.started
	s.started = false
	return s.emit(protocol.AssistantThinkingDelta{
		Type:      protocol.TypeAssistantThinkingDelta,
		SessionID: s.sessionID,
		TurnID:    s.turnID,
		TextDelta: text,
		Started:   started,
	})
}

func (s *wsSink) ThinkingDone() error {
	s.started = false
	return s.emit(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: s.sessionID,
		Code:      "thinking_done",
		Detail:    s.turnID,
	})
}

func (s *wsSink) ReplyDelta(text string) error {
	return s.emit(protocol.AssistantReplyDelta{
		Type:      protocol.TypeAssistantReplyDelta,
		SessionID: s.sessionID,
		TurnID:    s.turnID,
		TextDelta: text,
	})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if sess.Status != session.StatusActive {
		s.respondDomainError(w, session.ErrEnded)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.SessionEvents.WithLabelValues("ws_write_failed").Inc()
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	var (
		turnMu     sync.Mutex
		cancelTurn context.CancelFunc
		turns      sync.WaitGroup
	)

	sendError := func(code, detail string, retryable bool) {
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Source:    "gateway",
			Retryable: retryable,
			Detail:    detail,
		})
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			sendError("invalid_client_message", err.Error(), false)
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.ClientChatMessage:
			if m.SessionID != sessionID {
				sendError("session_mismatch", "message session_id does not match the connection", false)
				continue
			}
			t, release, err := s.beginTurn(chatRequest{Message: m.Text, SessionID: sessionID})
			if err != nil {
				_, code := classifyError(err)
				sendError(code, err.Error(), false)
				continue
			}
			turnCtx, turnCancel := context.WithCancel(ctx)
			turnMu.Lock()
			cancelTurn = turnCancel
			turnMu.Unlock()

			turns.Add(1)
			go func() {
				defer turns.Done()
				defer turnCancel()
				s.runWSTurn(turnCtx, t, send, release)
			}()
		case protocol.ClientControl:
			if m.Action != protocol.ActionCancel {
				sendError("unsupported_action", m.Action, false)
				continue
			}
			turnMu.Lock()
			if cancelTurn != nil {
				cancelTurn()
				cancelTurn = nil
			}
			turnMu.Unlock()
			_ = s.sessions.Interrupt(sessionID)
			s.metrics.SessionEvents.WithLabelValues("interrupted").Inc()
		}
	}

	cancel()
	turns.Wait()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// runWSTurn streams one turn. The transcript is written and the turn slot
// released before assistant_turn_end goes out, so a client that starts the
// next turn on turn end never races the previous one.
func (s *Server) runWSTurn(ctx context.Context, t turn, send func(any) bool, release func()) {
	sink := &wsSink{send: send, sessionID: t.sessionID, turnID: t.id}
	res, err := s.chat.StreamSplit(ctx, t.request(), sink)
	outcome := turnOutcome(ctx, err)

	reply := res.Reply
	reason := protocol.ReasonCompleted
	switch outcome {
	case "cancelled":
		reason = protocol.ReasonCancelled
	case "failed":
		reason = protocol.ReasonFailed
		reply = chat.FallbackReply
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: t.sessionID,
			Code:      "upstream_unavailable",
			Source:    "llm",
			Retryable: reliability.IsRetryable(err),
			Detail:    chat.FallbackReply,
		})
	}
	s.finishTurn(t, reply, res.Thinking)
	release()
	s.metrics.ChatTurns.WithLabelValues(transportWS, outcome).Inc()
	send(protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: t.sessionID,
		TurnID:    t.id,
		Reason:    reason,
		Reply:     reply,
	})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientChatMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantThinkingDelta:
		return m.Type, true
	case protocol.AssistantReplyDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
