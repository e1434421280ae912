package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfalabs/bfa-assistant/internal/measurement"
	"github.com/bfalabs/bfa-assistant/internal/reliability"
)

// byteStreamHandler writes body in fixed-size byte slices, splitting
// multi-byte runes across writes.
func byteStreamHandler(t *testing.T, body string, step int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bfa/chat", r.URL.Path)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		raw := []byte(body)
		for i := 0; i < len(raw); i += step {
			end := min(i+step, len(raw))
			_, _ = w.Write(raw[i:end])
			flusher.Flush()
		}
	}
}

func TestStreamChatKeepsRunesWhole(t *testing.T) {
	body := "<think>用户询问工时</think>共计四百五十工时"
	srv := httptest.NewServer(byteStreamHandler(t, body, 1))
	defer srv.Close()

	var chunks []string
	err := New(srv.URL).StreamChat(context.Background(), "工时多少", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, body, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
	}
}

func TestStreamChatSendsSession(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	err := New(srv.URL, WithSessionID("s-1")).StreamChat(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "s-1", got["session_id"])
	assert.Equal(t, "hi", got["message"])
}

func TestStreamChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"message is empty","code":"empty_message"}`)
	}))
	defer srv.Close()

	err := New(srv.URL).StreamChat(context.Background(), "", nil)
	var statusErr *reliability.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "message is empty", statusErr.Body)
}

func TestAskSplitsThinkingFromReply(t *testing.T) {
	srv := httptest.NewServer(byteStreamHandler(t, "abc<think>def</think>ghi", 2))
	defer srv.Close()

	updates := 0
	r, err := New(srv.URL).Ask(context.Background(), "hi", func(*Reply) { updates++ })
	require.NoError(t, err)
	assert.Equal(t, "abcghi", r.Text())
	assert.Equal(t, "def", r.Thinking())
	assert.True(t, r.Done())
	assert.False(t, r.Failed())
	assert.Greater(t, updates, 1)
}

func TestAskFailureShowsErrorReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	r, err := New(srv.URL).Ask(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.True(t, r.Failed())
	assert.Equal(t, ErrorReply, r.Text())
}

func TestReplyPlaceholderUntilThinking(t *testing.T) {
	r := NewReply()
	assert.Equal(t, ThinkingPlaceholder, r.DisplayThinking())

	r.Feed("<think>先")
	assert.True(t, r.InThinking())
	assert.Equal(t, "先", r.DisplayThinking())

	r2 := NewReply()
	r2.Feed("直接回答")
	r2.Finish()
	assert.Empty(t, r2.DisplayThinking())
}

func TestReplyUnterminatedThinking(t *testing.T) {
	r := NewReply()
	r.Feed("abc<think>de")
	r.Feed("f")
	r.Finish()
	assert.Equal(t, "abc", r.Text())
	assert.Equal(t, "def", r.Thinking())
	assert.True(t, r.InThinking())
}

func TestListTasksDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bfa/tasks", r.URL.Path)
		assert.Equal(t, "P001", r.URL.Query().Get("person_id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []measurement.Task{{ID: 1, Name: "南京汽车测试项目", PersonID: "P001"}},
		})
	}))
	defer srv.Close()

	tasks, err := New(srv.URL).ListTasks(context.Background(), "P001")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "南京汽车测试项目", tasks[0].Name)
}

func TestCreateSessionBindsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"session_id":"abc","person_id":"P001","status":"active"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.CreateSession(context.Background(), "P001")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.SessionID)
	assert.Equal(t, "abc", c.SessionID())
}
