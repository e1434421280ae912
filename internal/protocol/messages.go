package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientChatMessage      MessageType = "client_chat_message"
	TypeClientControl          MessageType = "client_control"
	TypeAssistantThinkingDelta MessageType = "assistant_thinking_delta"
	TypeAssistantReplyDelta    MessageType = "assistant_reply_delta"
	TypeAssistantTurnEnd       MessageType = "assistant_turn_end"
	TypeSystemEvent            MessageType = "system_event"
	TypeErrorEvent             MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionCancel = "cancel"
)

// Turn end reasons.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonFailed    = "failed"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// AssistantThinkingDelta carries text from inside a <think> block. Started
// marks the first fragment of a block.
type AssistantThinkingDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
	Started   bool        `json:"started,omitempty"`
}

type AssistantReplyDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Reason    string      `json:"reason"`
	Reply     string      `json:"reply,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientChatMessage:
		var msg ClientChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_chat_message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
