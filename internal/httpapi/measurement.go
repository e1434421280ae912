package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bfalabs/bfa-assistant/internal/measurement"
)

type generateRequest struct {
	TaskID             int64 `json:"task_id"`
	ReferenceProjectID int64 `json:"reference_project_id"`
}

type modifyRequest struct {
	Command          string                       `json:"command"`
	CurrentTimesheet []measurement.TimesheetEntry `json:"current_timesheet"`
}

type modifyResponse struct {
	UpdatedTimesheet []measurement.TimesheetEntry `json:"updated_timesheet"`
}

type timesheetRequest struct {
	PersonID  string                       `json:"person_id,omitempty"`
	Timesheet []measurement.TimesheetEntry `json:"timesheet"`
}

type submitResponse struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id"`
}

// historyItem is one entry of the measurement history sidebar.
type historyItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Baseline  []string  `json:"baseline"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := s.store.Persons(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, persons)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	personID := strings.TrimSpace(r.URL.Query().Get("person_id"))
	tasks, err := s.store.Tasks(r.Context(), personID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, measurement.SearchTasks(tasks, r.URL.Query().Get("q")))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	details, err := s.store.TaskDetails(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, details)
}

// handleSubmitTask validates a timesheet and stores it as a measurement
// record of the task.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req timesheetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := s.store.Task(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if res := measurement.Validate(req.Timesheet); !res.IsValid {
		s.metrics.WorkflowActions.WithLabelValues("submit_task", "invalid").Inc()
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "invalid timesheet",
			"code":   "invalid_timesheet",
			"errors": res.Errors,
		})
		return
	}

	now := time.Now()
	record := measurement.Record{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		PersonID:  req.PersonID,
		Title:     fmt.Sprintf("%s - %s", task.Name, now.Format("2006-01-02 15:04:05")),
		CreatedAt: now.UTC(),
	}
	for _, e := range req.Timesheet {
		name := e.Task
		if name == "" {
			name = e.Person
		}
		record.BaselineNames = append(record.BaselineNames, name)
	}
	if err := s.store.AppendRecord(r.Context(), record); err != nil {
		s.metrics.WorkflowActions.WithLabelValues("submit_task", "error").Inc()
		s.respondDomainError(w, err)
		return
	}
	s.metrics.WorkflowActions.WithLabelValues("submit_task", "ok").Inc()
	s.logger.Info("timesheet submitted", "task_id", task.ID, "record_id", record.ID, "entries", len(req.Timesheet))
	respondData(w, http.StatusOK, submitResponse{Status: "success", RecordID: record.ID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Records(r.Context(), strings.TrimSpace(r.URL.Query().Get("person_id")))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem{
			ID:        rec.ID,
			Title:     rec.Title,
			Baseline:  rec.BaselineNames,
			CreatedAt: rec.CreatedAt,
		})
	}
	respondData(w, http.StatusOK, items)
}

func (s *Server) handleHistoricalProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.HistoricalProjects(r.Context(), r.URL.Query().Get("department"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, projects)
}

func (s *Server) handleHistoricalDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	details, err := s.store.HistoricalDetails(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, details)
}

func (s *Server) handleBaselines(w http.ResponseWriter, r *http.Request) {
	baselines, err := s.store.Baselines(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, baselines)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.store.Strategies(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, strategies)
}

func (s *Server) handleGenerateCalculation(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	calc, err := s.calculator.Generate(r.Context(), req.TaskID, req.ReferenceProjectID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, calc)
}

func (s *Server) handleModifyCalculation(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	updated, err := measurement.Modify(req.Command, req.CurrentTimesheet)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, modifyResponse{UpdatedTimesheet: updated})
}

func (s *Server) handleValidateCalculation(w http.ResponseWriter, r *http.Request) {
	var req timesheetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondData(w, http.StatusOK, measurement.Validate(req.Timesheet))
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_"+name, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return id, true
}
