package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bfalabs/bfa-assistant/internal/measurement"
	"github.com/bfalabs/bfa-assistant/internal/session"
)

// Workflow actions accepted by POST /sessions/{id}/actions.
const (
	ActionStart            = "start"
	ActionListTasks        = "list_tasks"
	ActionSelectTask       = "select_task"
	ActionReferenceProject = "reference_project"
	ActionSelectStrategy   = "select_strategy"
	ActionSetBaselines     = "set_baselines"
	ActionConfirmBaselines = "confirm_baselines"
	ActionEditBaseline     = "edit_baseline"
	ActionDeleteBaseline   = "delete_baseline"
	ActionSubmit           = "submit"
	ActionViewRecord       = "view_record"
	ActionReset            = "reset"
)

type actionRequest struct {
	Action      string                `json:"action"`
	Query       string                `json:"query,omitempty"`
	TaskID      int64                 `json:"task_id,omitempty"`
	ProjectID   int64                 `json:"project_id,omitempty"`
	StrategyID  int                   `json:"strategy_id,omitempty"`
	BaselineIDs []int                 `json:"baseline_ids,omitempty"`
	BaselineID  int                   `json:"baseline_id,omitempty"`
	Baseline    *measurement.Baseline `json:"baseline,omitempty"`
	RecordID    string                `json:"record_id,omitempty"`
}

type actionResponse struct {
	Messages []session.Entry      `json:"messages"`
	Workflow measurement.Snapshot `json:"workflow"`
	Review   *measurement.Review  `json:"review,omitempty"`
	Record   *measurement.Record  `json:"record,omitempty"`
}

type sessionView struct {
	*session.Session
	Workflow measurement.Snapshot `json:"workflow"`
}

var errUnknownAction = errors.New("unknown action")

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var person *measurement.Person
	if id := strings.TrimSpace(req.PersonID); id != "" {
		p, err := measurement.FindPerson(r.Context(), s.store, id)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		person = &p
	}

	var sess *session.Session
	if person != nil {
		sess = s.sessions.Create(person.ID, person.Name)
	} else {
		sess = s.sessions.Create("", "")
	}
	entries, err := s.sessions.Append(sess.ID, toEntries(s.workflow.Start(sess.ID, person))...)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondData(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		PersonID:        sess.PersonID,
		PersonName:      sess.PersonName,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		Transcript:      entries,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, sessionView{Session: sess, Workflow: s.workflow.Snapshot(sess.ID)})
}

// handleLogin attaches a person and starts a new conversation.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req session.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	person, err := measurement.FindPerson(r.Context(), s.store, strings.TrimSpace(req.PersonID))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if _, err := s.sessions.Login(id, person.ID, person.Name); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.restart(w, id, &person, "login")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Logout(id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.restart(w, id, nil, "logout")
}

func (s *Server) restart(w http.ResponseWriter, sessionID string, person *measurement.Person, event string) {
	if err := s.sessions.ResetTranscript(sessionID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	if _, err := s.sessions.Append(sessionID, toEntries(s.workflow.Start(sessionID, person))...); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, sessionView{Session: sess, Workflow: s.workflow.Snapshot(sessionID)})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.workflow.Reset(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondData(w, http.StatusOK, sess)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if !sess.LoggedIn() {
		s.respondDomainError(w, session.ErrNotLoggedIn)
		return
	}
	conversations, err := s.chatlog.ListConversations(r.Context(), sess.PersonID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, conversations)
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if sess.Status != session.StatusActive {
		s.respondDomainError(w, session.ErrEnded)
		return
	}
	if !sess.LoggedIn() && req.Action != ActionViewRecord {
		s.respondDomainError(w, session.ErrNotLoggedIn)
		return
	}

	resp, err := s.runAction(r.Context(), sess, req)
	if err != nil {
		if errors.Is(err, errUnknownAction) {
			respondError(w, http.StatusBadRequest, "unknown_action", err.Error())
			return
		}
		s.metrics.WorkflowActions.WithLabelValues(req.Action, "error").Inc()
		s.respondDomainError(w, err)
		return
	}
	s.metrics.WorkflowActions.WithLabelValues(req.Action, "ok").Inc()
	resp.Workflow = s.workflow.Snapshot(id)
	respondData(w, http.StatusOK, resp)
}

// runAction applies one workflow action and appends the produced messages
// to the session transcript.
func (s *Server) runAction(ctx context.Context, sess *session.Session, req actionRequest) (actionResponse, error) {
	var (
		resp actionResponse
		msgs []measurement.Message
		err  error
	)
	switch req.Action {
	case ActionStart:
		person := measurement.Person{ID: sess.PersonID, Name: sess.PersonName}
		msgs = s.workflow.Start(sess.ID, &person)
	case ActionListTasks:
		msgs, err = s.workflow.ListTasks(ctx, sess.ID, req.Query)
	case ActionSelectTask:
		msgs, err = s.workflow.SelectTask(ctx, sess.ID, req.TaskID)
	case ActionReferenceProject:
		msgs, err = s.workflow.ReferenceProject(ctx, sess.ID, req.ProjectID)
	case ActionSelectStrategy:
		msgs, err = s.workflow.SelectStrategy(ctx, sess.ID, req.StrategyID)
	case ActionSetBaselines:
		err = s.workflow.SetBaselines(ctx, sess.ID, req.BaselineIDs)
	case ActionConfirmBaselines:
		msgs, err = s.workflow.ConfirmBaselines(sess.ID)
	case ActionEditBaseline:
		if req.Baseline == nil {
			return resp, fmt.Errorf("%w: baseline is required", measurement.ErrBaselineNotFound)
		}
		var review measurement.Review
		review, err = s.workflow.EditBaseline(sess.ID, *req.Baseline)
		resp.Review = &review
	case ActionDeleteBaseline:
		var review measurement.Review
		review, err = s.workflow.DeleteBaseline(sess.ID, req.BaselineID)
		resp.Review = &review
	case ActionSubmit:
		var record measurement.Record
		record, msgs, err = s.workflow.Submit(ctx, sess.ID)
		resp.Record = &record
	case ActionViewRecord:
		msgs, err = s.workflow.ViewRecord(ctx, req.RecordID)
	case ActionReset:
		s.workflow.Reset(sess.ID)
		if err = s.sessions.ResetTranscript(sess.ID); err == nil {
			person := measurement.Person{ID: sess.PersonID, Name: sess.PersonName}
			msgs = s.workflow.Start(sess.ID, &person)
		}
	default:
		return resp, fmt.Errorf("%w: %q", errUnknownAction, req.Action)
	}
	if err != nil {
		return actionResponse{}, err
	}

	resp.Messages, err = s.sessions.Append(sess.ID, toEntries(msgs)...)
	if err != nil {
		return actionResponse{}, err
	}
	if resp.Messages == nil {
		resp.Messages = []session.Entry{}
	}
	return resp, nil
}

func toEntries(msgs []measurement.Message) []session.Entry {
	out := make([]session.Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, session.Entry{
			Role:    m.Role,
			Kind:    m.Kind,
			Content: m.Content,
			Data:    m.Data,
		})
	}
	return out
}
