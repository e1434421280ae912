package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("P001", "小明")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PersonID != "P001" || got.PersonName != "小明" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.Append(s.ID, Entry{Role: "user", Kind: "text", Content: "hi"}); !errors.Is(err, ErrEnded) {
		t.Fatalf("Append() after end error = %v, want ErrEnded", err)
	}
}

func TestManagerLoginLogout(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("", "")
	if s.LoggedIn() {
		t.Fatalf("new anonymous session should not be logged in")
	}

	got, err := m.Login(s.ID, "P002", "小红")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !got.LoggedIn() || got.PersonName != "小红" {
		t.Fatalf("unexpected session after login: %+v", got)
	}

	got, err = m.Logout(s.ID)
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got.LoggedIn() {
		t.Fatalf("session still logged in after logout")
	}

	if _, err := m.Login("missing", "P1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Login() on missing session error = %v, want ErrNotFound", err)
	}
}

func TestManagerTranscriptIsCopied(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("", "")
	added, err := m.Append(s.ID, Entry{Role: "assistant", Kind: "text", Content: "欢迎"}, Entry{Role: "user", Kind: "text", Content: "你好"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(added) != 2 || added[0].ID == "" || added[0].CreatedAt.IsZero() {
		t.Fatalf("Append() did not assign ids: %+v", added)
	}

	got, _ := m.Get(s.ID)
	got.Transcript[0].Content = "mutated"
	again, _ := m.Get(s.ID)
	if again.Transcript[0].Content != "欢迎" {
		t.Fatalf("transcript leaked through clone: %q", again.Transcript[0].Content)
	}

	if err := m.ResetTranscript(s.ID); err != nil {
		t.Fatalf("ResetTranscript() error = %v", err)
	}
	again, _ = m.Get(s.ID)
	if len(again.Transcript) != 0 {
		t.Fatalf("transcript len = %d, want 0", len(again.Transcript))
	}
}

func TestManagerSingleTurnInFlight(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("", "")
	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.StartTurn(s.ID, "turn-2"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("second StartTurn() error = %v, want ErrTurnInFlight", err)
	}
	m.EndTurn(s.ID, "turn-other")
	if got, _ := m.Get(s.ID); got.ActiveTurnID != "turn-1" {
		t.Fatalf("EndTurn with stale id cleared the active turn")
	}
	m.EndTurn(s.ID, "turn-1")
	if err := m.StartTurn(s.ID, "turn-2"); err != nil {
		t.Fatalf("StartTurn() after EndTurn error = %v", err)
	}
}

func TestManagerInterruptHoldsTurnUntilEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("", "")
	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Interrupt(s.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != "turn-1" {
		t.Fatalf("ActiveTurnID = %q, want turn-1 until EndTurn", got.ActiveTurnID)
	}
	if got.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", got.InterruptionCount)
	}
	if err := m.StartTurn(s.ID, "turn-2"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("StartTurn() during cancelled turn error = %v, want ErrTurnInFlight", err)
	}

	m.EndTurn(s.ID, "turn-1")
	if err := m.StartTurn(s.ID, "turn-2"); err != nil {
		t.Fatalf("StartTurn() after EndTurn error = %v", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("P001", "小明")

	var hooked atomic.Int32
	m.SetExpireHook(func(expired *Session) {
		if expired.ID == s.ID {
			hooked.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if hooked.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", hooked.Load())
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}
