package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bfalabs/bfa-assistant/internal/chatlog"
)

const probeTimeout = 250 * time.Millisecond

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	LLMMode      string            `json:"llm_mode"`
	StoreMode    string            `json:"store_mode"`
	ChatLogMode  string            `json:"chat_log_mode"`
	BaselineSize int               `json:"baseline_count"`
	Checks       []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	mode := strings.ToLower(strings.TrimSpace(s.cfg.LLMMode))
	if mode == "" {
		mode = "auto"
	}
	checks := make([]onboardingCheck, 0, 8)
	checks = append(checks, s.llmChecks(mode)...)

	storeMode := s.storeMode()
	checks = append(checks, persistenceCheck("measurement_store", "Measurement records", storeMode))
	chatLogMode := s.chatLogMode()
	checks = append(checks, persistenceCheck("chat_log_store", "Conversation history", chatLogMode))

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	baselines, err := s.store.Baselines(ctx)
	switch {
	case err != nil:
		checks = append(checks, onboardingCheck{
			ID:     "baseline_library",
			Status: "error",
			Label:  "Baseline library",
			Detail: err.Error(),
		})
	case len(baselines) == 0:
		checks = append(checks, onboardingCheck{
			ID:     "baseline_library",
			Status: "error",
			Label:  "Baseline library",
			Detail: "no baselines loaded",
			Fix:    "Point BFA_LIBRARY_PATH at a library file with baselines.",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "baseline_library",
			Status: "ok",
			Label:  "Baseline library",
			Detail: fmt.Sprintf("%d baselines", len(baselines)),
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		LLMMode:      mode,
		StoreMode:    storeMode,
		ChatLogMode:  chatLogMode,
		BaselineSize: len(baselines),
		Checks:       checks,
	})
}

func persistenceCheck(id, label, mode string) onboardingCheck {
	switch mode {
	case "postgres":
		return onboardingCheck{ID: id, Status: "ok", Label: label, Detail: "postgres"}
	case "in-memory":
		return onboardingCheck{
			ID:     id,
			Status: "warn",
			Label:  label,
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist across restarts.",
		}
	default:
		return onboardingCheck{ID: id, Status: "warn", Label: label, Detail: mode}
	}
}

func (s *Server) chatLogMode() string {
	switch s.chatlog.(type) {
	case *chatlog.PostgresStore:
		return "postgres"
	case *chatlog.InMemoryStore:
		return "in-memory"
	case nil:
		return "disabled"
	default:
		return "custom"
	}
}

func (s *Server) llmChecks(mode string) []onboardingCheck {
	checks := make([]onboardingCheck, 0, 3)
	endpointCheck := func(id, label, raw, level string) bool {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			checks = append(checks, onboardingCheck{
				ID:     id,
				Status: level,
				Label:  label,
				Detail: "endpoint not configured",
			})
			return false
		}
		if err := probeEndpoint(raw); err != nil {
			checks = append(checks, onboardingCheck{
				ID:     id,
				Status: level,
				Label:  label,
				Detail: fmt.Sprintf("not reachable (%s)", raw),
				Fix:    "Start the model server or correct the URL.",
			})
			return false
		}
		checks = append(checks, onboardingCheck{ID: id, Status: "ok", Label: label, Detail: raw})
		return true
	}

	switch mode {
	case "openai":
		endpointCheck("llm_openai", "LLM (OpenAI-compatible)", s.cfg.LLMBaseURL, "error")
	case "http":
		endpointCheck("llm_http", "LLM (HTTP stream)", s.cfg.LLMHTTPURL, "error")
	case "auto":
		okPrimary := endpointCheck("llm_openai", "LLM (OpenAI-compatible)", s.cfg.LLMBaseURL, "warn")
		okSecondary := false
		if strings.TrimSpace(s.cfg.LLMHTTPURL) != "" {
			okSecondary = endpointCheck("llm_http", "LLM (HTTP stream)", s.cfg.LLMHTTPURL, "warn")
		}
		if !okPrimary && !okSecondary {
			checks = append(checks, onboardingCheck{
				ID:     "llm_fallback",
				Status: "error",
				Label:  "LLM",
				Detail: "no reachable provider; chat turns will fail",
				Fix:    "Set LLM_BASE_URL or LLM_HTTP_URL, or LLM_MODE=mock for demos.",
			})
		}
	case "mock":
		checks = append(checks, onboardingCheck{
			ID:     "llm_mock",
			Status: "warn",
			Label:  "LLM is mock",
			Detail: "Replies are canned.",
			Fix:    "Set LLM_MODE=openai and LLM_BASE_URL.",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "llm_mode_unknown",
			Status: "warn",
			Label:  "LLM",
			Detail: "unknown mode; expected auto|openai|http|mock",
		})
	}
	return checks
}

func probeEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
