package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfalabs/bfa-assistant/internal/config"
	"github.com/bfalabs/bfa-assistant/internal/measurement"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:         "test_app",
		SessionInactivityTimeout: time.Minute,
		LLMMode:                  "mock",
	}
}

func TestBuildInMemory(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), log.New(io.Discard))
	require.NoError(t, err)
	defer func() { assert.NoError(t, res.Cleanup()) }()

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildExpireHookResetsWorkflow(t *testing.T) {
	cfg := testConfig()
	cfg.SessionInactivityTimeout = 20 * time.Millisecond
	res, err := Build(context.Background(), cfg, log.New(io.Discard))
	require.NoError(t, err)
	defer res.Cleanup()

	sess := res.Sessions.Create("P001", "小明")
	res.Workflow.Start(sess.ID, &measurement.Person{ID: "P001", Name: "小明"})
	_, err = res.Workflow.ListTasks(context.Background(), sess.ID, "")
	require.NoError(t, err)
	require.Equal(t, measurement.StageTaskList, res.Workflow.Snapshot(sess.ID).Stage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res.Sessions.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return res.Workflow.Snapshot(sess.ID).Stage == measurement.StageEntry
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, res.Sessions.ActiveCount())
}

func TestBuildRejectsBadLibraryPath(t *testing.T) {
	cfg := testConfig()
	cfg.LibraryPath = "/nonexistent/library.yaml"
	_, err := Build(context.Background(), cfg, log.New(io.Discard))
	assert.Error(t, err)
}

func TestBuildRejectsUnknownLLMMode(t *testing.T) {
	cfg := testConfig()
	cfg.LLMMode = "grpc"
	_, err := Build(context.Background(), cfg, log.New(io.Discard))
	assert.Error(t, err)
}
