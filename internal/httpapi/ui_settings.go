package httpapi

import (
	"net/http"

	"github.com/bfalabs/bfa-assistant/internal/chat"
	"github.com/bfalabs/bfa-assistant/internal/thinkstream"
)

type uiSettingsResponse struct {
	ThinkOpenTag        string `json:"think_open_tag"`
	ThinkCloseTag       string `json:"think_close_tag"`
	FallbackReply       string `json:"fallback_reply"`
	ChatPath            string `json:"chat_path"`
	ChatEventsPath      string `json:"chat_events_path"`
	ChatWSPath          string `json:"chat_ws_path"`
	HistoryTurns        int    `json:"history_turns"`
	SessionInactivityMS int64  `json:"session_inactivity_ms"`
}

func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, uiSettingsResponse{
		ThinkOpenTag:        thinkstream.OpenTag,
		ThinkCloseTag:       thinkstream.CloseTag,
		FallbackReply:       chat.FallbackReply,
		ChatPath:            APIPrefix + "/chat",
		ChatEventsPath:      APIPrefix + "/chat/events",
		ChatWSPath:          APIPrefix + "/chat/ws",
		HistoryTurns:        s.cfg.ChatHistoryTurns,
		SessionInactivityMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}
