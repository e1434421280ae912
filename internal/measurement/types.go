// Package measurement holds the business/finance measurement domain: the
// task and baseline catalog, timesheet calculations and the per-session
// measurement workflow that drives the chat transcript.
package measurement

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrPersonNotFound   = errors.New("person not found")
	ErrProjectNotFound  = errors.New("historical project not found")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrBaselineNotFound = errors.New("baseline not found")
	ErrRecordNotFound   = errors.New("measurement record not found")
	ErrInvalidStage     = errors.New("operation not allowed in current stage")
	ErrNoBaselines      = errors.New("no baselines selected")
	ErrUnknownCommand   = errors.New("unrecognized modify command")
	ErrEntryNotFound    = errors.New("timesheet entry not found")
	ErrAmbiguousEntry   = errors.New("timesheet entry is ambiguous")
)

// Person is an interface person who can log in and own measurement tasks.
type Person struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Department string `json:"department" yaml:"department"`
}

// Task is a pending measurement task (an unmeasured project).
type Task struct {
	ID         int64  `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Department string `json:"department" yaml:"department"`
	Calculator string `json:"calculator" yaml:"calculator"`
	Brand      string `json:"brand" yaml:"brand"`
	Spec       string `json:"spec" yaml:"spec"`
	PersonID   string `json:"person_id,omitempty" yaml:"person_id"`
}

// ProjectDetails is the basic information card of a selected task.
type ProjectDetails struct {
	ProjectID   string `json:"projectId" yaml:"project_id"`
	ProjectName string `json:"projectName" yaml:"project_name"`
	Department  string `json:"department" yaml:"department"`
	Brand       string `json:"brand" yaml:"brand"`
	Scale       string `json:"scale" yaml:"scale"`
	Status      string `json:"status" yaml:"status"`
	Calculator  string `json:"calculator" yaml:"calculator"`
	CreatedAt   string `json:"createdAt" yaml:"created_at"`
	UpdatedAt   string `json:"updatedAt" yaml:"updated_at"`
	OrderInfo   string `json:"orderInfo" yaml:"order_info"`
	PowerConfig string `json:"powerConfig" yaml:"power_config"`
}

// HistoricalProject is a previously measured project offered as reference.
type HistoricalProject struct {
	ID         int64  `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Department string `json:"department" yaml:"department"`
	Calculator string `json:"calculator" yaml:"calculator"`
	Brand      string `json:"brand" yaml:"brand"`
	Spec       string `json:"spec" yaml:"spec"`
	StrategyID int    `json:"strategyId" yaml:"strategy_id"`
}

// HistoricalRow is one line of a historical project's work-hour breakdown.
// Monthly holds reported hours per month column.
type HistoricalRow struct {
	Seq           int            `yaml:"seq"`
	PowerConfig   string         `yaml:"power_config"`
	Task          string         `yaml:"task"`
	ChangeType    string         `yaml:"change_type"`
	Scope         string         `yaml:"scope"`
	Matter        string         `yaml:"matter"`
	BaselineHours int            `yaml:"baseline_hours"`
	ReportedHours int            `yaml:"reported_hours"`
	Monthly       map[string]int `yaml:"monthly"`
}

// MarshalJSON flattens the row into the column-keyed object the detail
// table renders, with one key per month.
func (r HistoricalRow) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, 9+len(r.Monthly))
	for month, hours := range r.Monthly {
		obj[month] = hours
	}
	obj["id"] = r.Seq
	obj["序号"] = r.Seq
	obj["动力配置"] = r.PowerConfig
	obj["一级任务"] = r.Task
	obj["改动类型"] = r.ChangeType
	obj["定义范围"] = r.Scope
	obj["具体事项"] = r.Matter
	obj["基准工时"] = r.BaselineHours
	obj["填报总工时"] = r.ReportedHours
	return json.Marshal(obj)
}

// HistoricalDetails is the breakdown table of a historical project.
type HistoricalDetails struct {
	TableData      []HistoricalRow `json:"table_data" yaml:"rows"`
	DynamicColumns []string        `json:"dynamic_columns" yaml:"months"`
}

// Strategy is a measurement strategy. An empty BaselineIDs means the user
// picks baselines by hand.
type Strategy struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	BaselineIDs []int  `json:"baselineIds" yaml:"baseline_ids"`
}

// Custom reports whether the strategy requires manual baseline selection.
func (s Strategy) Custom() bool { return len(s.BaselineIDs) == 0 }

// Baseline is a first-level task in the baseline library.
type Baseline struct {
	ID          int    `json:"id" yaml:"id"`
	PowerConfig string `json:"powerConfig" yaml:"power_config"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Matter      string `json:"matter" yaml:"matter"`
	Hours       int    `json:"hours" yaml:"hours"`
	Months      int    `json:"months" yaml:"months"`
}

// Record is a submitted measurement result.
type Record struct {
	ID            string     `json:"id" yaml:"id"`
	TaskID        int64      `json:"task_id" yaml:"task_id"`
	PersonID      string     `json:"person_id,omitempty" yaml:"person_id"`
	Title         string     `json:"title" yaml:"title"`
	BaselineNames []string   `json:"baseline" yaml:"baseline"`
	BaselineIDs   []int      `json:"baselineIds" yaml:"baseline_ids"`
	Baselines     []Baseline `json:"baselines,omitempty" yaml:"baselines"`
	Summary       *Summary   `json:"summary,omitempty" yaml:"-"`
	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
}

// TimesheetEntry is one person's hours in a calculation.
type TimesheetEntry struct {
	Person string  `json:"person"`
	Task   string  `json:"task,omitempty"`
	Hours  float64 `json:"hours"`
}

// Calculation is a generated timesheet for a task based on a reference
// project.
type Calculation struct {
	ID                 string           `json:"calculation_id"`
	TaskID             int64            `json:"task_id"`
	ReferenceProjectID int64            `json:"reference_project_id"`
	Timesheet          []TimesheetEntry `json:"timesheet"`
}

// ValidationResult reports timesheet problems, one message per bad entry.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}
