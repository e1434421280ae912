package measurement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage is the position of a session in the measurement flow.
type Stage string

const (
	StageEntry             Stage = "entry"
	StageTaskList          Stage = "task_list"
	StageProjectReview     Stage = "project_review"
	StageBaselineSelection Stage = "baseline_selection"
	StageBaselineReview    Stage = "baseline_review"
	StageSubmitted         Stage = "submitted"
)

// Message kinds rendered by the chat transcript.
const (
	KindText                   = "text"
	KindMeasurementEntry       = "measurement-entry"
	KindTaskList               = "task-list"
	KindProjectInfo            = "project-info"
	KindHistoryTable           = "history-table"
	KindStrategyList           = "strategy-list"
	KindBaselineList           = "baseline-list"
	KindBaselineDetails        = "baseline-details"
	KindBaselineHistoryDetails = "baseline-history-details"
)

// Message is one transcript entry produced by the workflow.
type Message struct {
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func say(content string) Message {
	return Message{Role: "assistant", Kind: KindText, Content: content}
}

func card(kind string, data any) Message {
	return Message{Role: "assistant", Kind: kind, Data: data}
}

// Snapshot is a read-only view of a session's workflow state.
type Snapshot struct {
	Stage       Stage     `json:"stage"`
	PersonID    string    `json:"person_id,omitempty"`
	Task        *Task     `json:"task,omitempty"`
	Strategy    *Strategy `json:"strategy,omitempty"`
	SelectedIDs []int     `json:"selected_baseline_ids,omitempty"`
	Review      *Review   `json:"review,omitempty"`
}

type sessionState struct {
	stage     Stage
	personID  string
	task      *Task
	details   *ProjectDetails
	history   []HistoricalProject
	strategy  *Strategy
	selected  []int
	baselines []Baseline
}

// Workflow owns every session's measurement state. Callers drive it with
// user actions and append the returned messages to the transcript.
type Workflow struct {
	catalog Catalog
	records RecordStore
	logger  *log.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*sessionState
}

func NewWorkflow(catalog Catalog, records RecordStore, logger *log.Logger) *Workflow {
	if logger == nil {
		logger = log.Default()
	}
	return &Workflow{
		catalog: catalog,
		records: records,
		logger:  logger.WithPrefix("workflow"),
		now:     time.Now,
		states:  make(map[string]*sessionState),
	}
}

func (w *Workflow) state(sessionID string) *sessionState {
	st, ok := w.states[sessionID]
	if !ok {
		st = &sessionState{stage: StageEntry}
		w.states[sessionID] = st
	}
	return st
}

// Start begins a fresh conversation. A nil person gets the login prompt.
func (w *Workflow) Start(sessionID string, person *Person) []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := &sessionState{stage: StageEntry}
	w.states[sessionID] = st
	if person == nil {
		return []Message{say("欢迎使用业财一体化智能测算助手，请先登录。")}
	}
	st.personID = person.ID
	return []Message{
		say("请选择需要进行的操作："),
		card(KindMeasurementEntry, nil),
	}
}

// ListTasks shows the pending tasks of the logged-in person, optionally
// fuzzy-filtered by query.
func (w *Workflow) ListTasks(ctx context.Context, sessionID, query string) ([]Message, error) {
	w.mu.Lock()
	personID := w.state(sessionID).personID
	w.mu.Unlock()

	tasks, err := w.catalog.Tasks(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks = SearchTasks(tasks, query)

	w.mu.Lock()
	st := w.state(sessionID)
	st.stage = StageTaskList
	st.task, st.details, st.history = nil, nil, nil
	st.clearBaselines()
	w.mu.Unlock()

	return []Message{
		say("以下是待办任务列表，请选择要测算的项目："),
		card(KindTaskList, tasks),
	}, nil
}

// SelectTask loads the task's details and the department's historical
// projects concurrently and moves to project review.
func (w *Workflow) SelectTask(ctx context.Context, sessionID string, taskID int64) ([]Message, error) {
	task, err := w.catalog.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var (
		details    ProjectDetails
		history    []HistoricalProject
		strategies []Strategy
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := w.catalog.TaskDetails(gCtx, taskID)
		if err != nil {
			return fmt.Errorf("task details: %w", err)
		}
		details = d
		return nil
	})
	g.Go(func() error {
		h, err := w.catalog.HistoricalProjects(gCtx, task.Department)
		if err != nil {
			return fmt.Errorf("historical projects: %w", err)
		}
		history = h
		return nil
	})
	g.Go(func() error {
		s, err := w.catalog.Strategies(gCtx)
		if err != nil {
			return fmt.Errorf("strategies: %w", err)
		}
		strategies = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	st := w.state(sessionID)
	st.stage = StageProjectReview
	st.task = &task
	st.details = &details
	st.history = history
	st.clearBaselines()
	w.mu.Unlock()

	w.logger.Debug("task selected", "session_id", sessionID, "task_id", taskID, "history", len(history))
	return []Message{
		say(fmt.Sprintf("已选择项目：%s。以下为该项目基础信息：", task.Name)),
		card(KindProjectInfo, details),
		say("以下为历史测算参考列表：请点击对应行的“参考并测算”按钮引用历史策略。"),
		card(KindHistoryTable, history),
		say("也可以直接选择测算策略："),
		card(KindStrategyList, strategies),
	}, nil
}

// ReferenceProject applies the strategy of a historical project, the
// "reference and measure" action of the history table.
func (w *Workflow) ReferenceProject(ctx context.Context, sessionID string, projectID int64) ([]Message, error) {
	w.mu.Lock()
	st := w.state(sessionID)
	var strategyID int
	found := false
	for _, p := range st.history {
		if p.ID == projectID {
			strategyID, found = p.StrategyID, true
			break
		}
	}
	w.mu.Unlock()
	if !found {
		return nil, ErrProjectNotFound
	}
	return w.SelectStrategy(ctx, sessionID, strategyID)
}

// SelectStrategy applies a strategy. Preset strategies go straight to the
// baseline review, custom ones open the baseline picker.
func (w *Workflow) SelectStrategy(ctx context.Context, sessionID string, strategyID int) ([]Message, error) {
	strategy, err := FindStrategy(ctx, w.catalog, strategyID)
	if err != nil {
		return nil, err
	}
	all, err := w.catalog.Baselines(ctx)
	if err != nil {
		return nil, fmt.Errorf("baselines: %w", err)
	}
	var rows []Baseline
	if !strategy.Custom() {
		if rows, err = resolveBaselines(all, strategy.BaselineIDs); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(sessionID)
	if st.task == nil {
		return nil, fmt.Errorf("%w: no task selected", ErrInvalidStage)
	}
	st.clearBaselines()
	st.strategy = &strategy

	if strategy.Custom() {
		st.stage = StageBaselineSelection
		return []Message{
			say(fmt.Sprintf("已选择策略：%s，请自定义选择基准任务：", strategy.Name)),
			card(KindBaselineList, all),
		}, nil
	}
	st.stage = StageBaselineReview
	st.selected = append([]int(nil), strategy.BaselineIDs...)
	st.baselines = rows
	return []Message{
		say(fmt.Sprintf("已选择策略：%s，以下为自动选择的基准任务：", strategy.Name)),
		card(KindBaselineDetails, newReview(rows)),
	}, nil
}

// SetBaselines records the user's manual baseline selection.
func (w *Workflow) SetBaselines(ctx context.Context, sessionID string, ids []int) error {
	all, err := w.catalog.Baselines(ctx)
	if err != nil {
		return fmt.Errorf("baselines: %w", err)
	}
	rows, err := resolveBaselines(all, ids)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(sessionID)
	if st.stage != StageBaselineSelection {
		return fmt.Errorf("%w: %s", ErrInvalidStage, st.stage)
	}
	st.selected = append([]int(nil), ids...)
	st.baselines = rows
	return nil
}

// ConfirmBaselines finishes manual selection. An empty selection is rejected
// and leaves the state unchanged.
func (w *Workflow) ConfirmBaselines(sessionID string) ([]Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(sessionID)
	if st.stage != StageBaselineSelection {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStage, st.stage)
	}
	if len(st.selected) == 0 {
		return nil, ErrNoBaselines
	}
	st.stage = StageBaselineReview
	return []Message{
		say("已确认选择的基准任务，以下为明细："),
		card(KindBaselineDetails, newReview(st.baselines)),
	}, nil
}

// EditBaseline replaces a row of the working baseline table.
func (w *Workflow) EditBaseline(sessionID string, row Baseline) (Review, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(sessionID)
	if st.stage != StageBaselineReview {
		return Review{}, fmt.Errorf("%w: %s", ErrInvalidStage, st.stage)
	}
	for i := range st.baselines {
		if st.baselines[i].ID == row.ID {
			st.baselines[i] = row
			return newReview(st.baselines), nil
		}
	}
	return Review{}, fmt.Errorf("%w: %d", ErrBaselineNotFound, row.ID)
}

// DeleteBaseline drops a row from the working baseline table.
func (w *Workflow) DeleteBaseline(sessionID string, id int) (Review, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(sessionID)
	if st.stage != StageBaselineReview {
		return Review{}, fmt.Errorf("%w: %s", ErrInvalidStage, st.stage)
	}
	for i := range st.baselines {
		if st.baselines[i].ID == id {
			st.baselines = append(st.baselines[:i], st.baselines[i+1:]...)
			st.selected = removeID(st.selected, id)
			return newReview(st.baselines), nil
		}
	}
	return Review{}, fmt.Errorf("%w: %d", ErrBaselineNotFound, id)
}

// Submit stores the reviewed baselines as a measurement record and clears
// the strategy and selection. The selected task is kept.
func (w *Workflow) Submit(ctx context.Context, sessionID string) (Record, []Message, error) {
	w.mu.Lock()
	st := w.state(sessionID)
	if st.stage != StageBaselineReview || st.task == nil {
		stage := st.stage
		w.mu.Unlock()
		return Record{}, nil, fmt.Errorf("%w: %s", ErrInvalidStage, stage)
	}
	if len(st.baselines) == 0 {
		w.mu.Unlock()
		return Record{}, nil, ErrNoBaselines
	}
	now := w.now()
	sum := Summarize(st.baselines)
	record := Record{
		ID:        uuid.NewString(),
		TaskID:    st.task.ID,
		PersonID:  st.personID,
		Title:     fmt.Sprintf("%s - %s", st.task.Name, now.Format("2006-01-02 15:04:05")),
		Baselines: append([]Baseline(nil), st.baselines...),
		Summary:   &sum,
		CreatedAt: now.UTC(),
	}
	for _, b := range st.baselines {
		record.BaselineIDs = append(record.BaselineIDs, b.ID)
		record.BaselineNames = append(record.BaselineNames, b.Name)
	}
	w.mu.Unlock()

	if err := w.records.AppendRecord(ctx, record); err != nil {
		return Record{}, nil, fmt.Errorf("append record: %w", err)
	}

	w.mu.Lock()
	st = w.state(sessionID)
	st.stage = StageSubmitted
	st.clearBaselines()
	w.mu.Unlock()

	w.logger.Info("measurement submitted", "session_id", sessionID, "record_id", record.ID, "task_id", record.TaskID, "total_hours", sum.TotalHours)
	return record, []Message{
		say("测算结果已提交，感谢您的使用！如需再次测算，请新建会话。"),
	}, nil
}

// ViewRecord shows a submitted record without changing the flow.
func (w *Workflow) ViewRecord(ctx context.Context, recordID string) ([]Message, error) {
	record, err := w.records.Record(ctx, recordID)
	if err != nil {
		return nil, err
	}
	rows := record.Baselines
	if len(rows) == 0 && len(record.BaselineIDs) > 0 {
		all, err := w.catalog.Baselines(ctx)
		if err != nil {
			return nil, fmt.Errorf("baselines: %w", err)
		}
		if rows, err = resolveBaselines(all, record.BaselineIDs); err != nil {
			return nil, err
		}
	}
	return []Message{
		say(fmt.Sprintf("您查看了历史测算记录：%s", record.Title)),
		card(KindBaselineHistoryDetails, newReview(rows)),
	}, nil
}

// Snapshot returns the current state of a session.
func (w *Workflow) Snapshot(sessionID string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[sessionID]
	if !ok {
		return Snapshot{Stage: StageEntry}
	}
	snap := Snapshot{
		Stage:       st.stage,
		PersonID:    st.personID,
		SelectedIDs: append([]int(nil), st.selected...),
	}
	if st.task != nil {
		t := *st.task
		snap.Task = &t
	}
	if st.strategy != nil {
		s := *st.strategy
		snap.Strategy = &s
	}
	if st.stage == StageBaselineReview {
		r := newReview(st.baselines)
		snap.Review = &r
	}
	return snap
}

// Reset drops a session's workflow state.
func (w *Workflow) Reset(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.states, sessionID)
}

func (st *sessionState) clearBaselines() {
	st.strategy = nil
	st.selected = nil
	st.baselines = nil
}

func removeID(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
