package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter produces a deterministic reasoning-style reply so the chat
// path can be exercised without a model server.
type MockAdapter struct {
	chunkRunes int
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{chunkRunes: 3} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	text := buildMockReply(req)
	runes := []rune(text)
	step := a.chunkRunes
	if step <= 0 {
		step = len(runes)
	}
	for i := 0; i < len(runes); i += step {
		if err := ctx.Err(); err != nil {
			return MessageResponse{}, err
		}
		end := min(i+step, len(runes))
		if onDelta != nil {
			if err := onDelta(string(runes[i:end])); err != nil {
				return MessageResponse{}, err
			}
		}
	}
	return MessageResponse{Text: text}, nil
}

func buildMockReply(req MessageRequest) string {
	input := strings.TrimSpace(req.InputText)
	if input == "" {
		input = "（空消息）"
	}
	thinking := fmt.Sprintf("用户的问题是：%s。这是离线模式，没有可用的模型。", input)
	if n := len(req.History); n > 0 {
		thinking += fmt.Sprintf("上下文中有%d条历史消息。", n)
	}
	return fmt.Sprintf("<think>%s</think>收到：%s", thinking, input)
}
