package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bfalabs/bfa-assistant/internal/reliability"
	"github.com/bfalabs/bfa-assistant/internal/thinkstream"
)

const streamDone = "[DONE]"

// HTTPAdapter posts the request as JSON to a plain HTTP endpoint and accepts
// an SSE, NDJSON, JSON or raw text body in return.
type HTTPAdapter struct {
	url    string
	strict bool
	client *http.Client
}

func NewHTTPAdapter(url string, timeout time.Duration) *HTTPAdapter {
	a := NewHTTPAdapterWithOptions(url, false)
	if timeout > 0 {
		a.client.Timeout = timeout
	}
	return a
}

// NewHTTPAdapterWithOptions builds an adapter. In strict mode a stream line
// that is not valid JSON is an error instead of literal text.
func NewHTTPAdapterWithOptions(url string, strict bool) *HTTPAdapter {
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		strict: strict,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return MessageResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return MessageResponse{}, &reliability.StatusError{StatusCode: res.StatusCode, Body: string(body)}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return a.consumeSSE(res.Body, onDelta)
	case strings.Contains(ct, "application/x-ndjson"):
		return a.consumeNDJSON(res.Body, onDelta)
	case strings.Contains(ct, "application/json"):
		return a.consumeJSON(res.Body, onDelta)
	default:
		return a.consumeText(res.Body, onDelta)
	}
}

func (a *HTTPAdapter) consumeSSE(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	scanner := newLineScanner(body)

	var out strings.Builder
	var data []string
	flush := func() (bool, error) {
		if len(data) == 0 {
			return false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		if strings.TrimSpace(payload) == streamDone {
			return true, nil
		}
		delta, err := a.decodeLine(payload)
		if err != nil {
			return false, err
		}
		return false, forward(&out, delta, onDelta)
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			done, err := flush()
			if err != nil {
				return MessageResponse{}, err
			}
			if done {
				return MessageResponse{Text: out.String()}, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return MessageResponse{}, fmt.Errorf("stream read: %w", err)
	}
	if _, err := flush(); err != nil {
		return MessageResponse{}, err
	}
	return MessageResponse{Text: out.String()}, nil
}

func (a *HTTPAdapter) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	scanner := newLineScanner(body)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == streamDone {
			break
		}
		delta, err := a.decodeLine(line)
		if err != nil {
			return MessageResponse{}, err
		}
		if err := forward(&out, delta, onDelta); err != nil {
			return MessageResponse{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return MessageResponse{}, fmt.Errorf("stream read: %w", err)
	}
	return MessageResponse{Text: out.String()}, nil
}

func (a *HTTPAdapter) consumeJSON(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("read response: %w", err)
	}
	delta, err := a.decodeLine(string(raw))
	if err != nil {
		return MessageResponse{}, err
	}
	var out strings.Builder
	if err := forward(&out, delta, onDelta); err != nil {
		return MessageResponse{}, err
	}
	return MessageResponse{Text: out.String()}, nil
}

// consumeText forwards the body as it arrives, never splitting a rune.
func (a *HTTPAdapter) consumeText(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	var out strings.Builder
	var runes thinkstream.RuneBuffer
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := forward(&out, runes.Write(buf[:n]), onDelta); ferr != nil {
				return MessageResponse{}, ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return MessageResponse{}, fmt.Errorf("stream read: %w", err)
		}
	}
	if err := forward(&out, runes.Flush(), onDelta); err != nil {
		return MessageResponse{}, err
	}
	return MessageResponse{Text: out.String()}, nil
}

func (a *HTTPAdapter) decodeLine(line string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		if a.strict {
			return "", fmt.Errorf("decode stream payload: %w", err)
		}
		return line, nil
	}
	return extractText(obj), nil
}

func forward(out *strings.Builder, delta string, onDelta DeltaHandler) error {
	if delta == "" {
		return nil
	}
	out.WriteString(delta)
	if onDelta == nil {
		return nil
	}
	return onDelta(delta)
}

func newLineScanner(body io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

// extractText understands OpenAI chunks, Ollama native chunks and flat
// {"text"|"delta"|"output"|"response"|"message"} objects.
func extractText(obj map[string]any) string {
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			for _, k := range []string{"delta", "message"} {
				if m, ok := choice[k].(map[string]any); ok {
					if s, ok := m["content"].(string); ok {
						return s
					}
				}
			}
			if s, ok := choice["text"].(string); ok {
				return s
			}
		}
	}
	if m, ok := obj["message"].(map[string]any); ok {
		if s, ok := m["content"].(string); ok {
			return s
		}
	}
	for _, k := range []string{"text", "delta", "output", "response", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
