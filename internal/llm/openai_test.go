package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunks(t *testing.T, w http.ResponseWriter, parts ...string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, part := range parts {
		chunk := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion.chunk",
			"model":  "qwen3:8b",
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]string{"content": part},
			}},
		}
		raw, err := json.Marshal(chunk)
		require.NoError(t, err)
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeAPIError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, `{"error":{"message":"model is loading","type":"server_error"}}`)
}

func newTestOpenAIAdapter(url string, retries int) *OpenAIAdapter {
	a := NewOpenAIAdapter(Config{
		BaseURL:    url + "/v1",
		APIKey:     "ollama",
		Model:      "qwen3:8b",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		Logger:     log.New(io.Discard),
	})
	a.backoffBase = time.Millisecond
	a.backoffCap = 2 * time.Millisecond
	return a
}

func TestOpenAIAdapterStreamsDeltas(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ollama", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChunks(t, w, "<think>", "先查基准", "</think>", "共 450 工时")
	}))
	defer srv.Close()

	a := newTestOpenAIAdapter(srv.URL, 0)
	var deltas []string
	resp, err := a.StreamResponse(context.Background(), MessageRequest{
		SystemPrompt: "你是测算助手",
		History:      []Turn{{Role: "user", Content: "上次"}, {Role: "assistant", Content: "好的"}},
		InputText:    "工时多少",
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "<think>先查基准</think>共 450 工时", resp.Text)
	assert.Equal(t, []string{"<think>", "先查基准", "</think>", "共 450 工时"}, deltas)
	assert.Equal(t, "qwen3:8b", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "工时多少", got.Messages[3].Content)
}

func TestOpenAIAdapterRetriesBeforeFirstDelta(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeAPIError(w, http.StatusServiceUnavailable)
			return
		}
		writeChunks(t, w, "ok")
	}))
	defer srv.Close()

	resp, err := newTestOpenAIAdapter(srv.URL, 2).StreamResponse(context.Background(), MessageRequest{InputText: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIAdapterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestOpenAIAdapter(srv.URL, 3).StreamResponse(context.Background(), MessageRequest{InputText: "hi"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIAdapterHandlerErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(t, w, "a", "b", "c")
	}))
	defer srv.Close()

	stop := fmt.Errorf("client gone")
	n := 0
	_, err := newTestOpenAIAdapter(srv.URL, 0).StreamResponse(context.Background(), MessageRequest{InputText: "hi"}, func(string) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestBuildMessagesSkipsBlankSystemPrompt(t *testing.T) {
	msgs := buildMessages(MessageRequest{SystemPrompt: "  ", InputText: "x"})
	require.Len(t, msgs, 1)
	assert.True(t, strings.EqualFold(msgs[0].Role, "user"))
}
