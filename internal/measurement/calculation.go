package measurement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Calculator produces and edits timesheets for measurement tasks.
type Calculator struct {
	catalog Catalog
}

func NewCalculator(catalog Catalog) *Calculator {
	return &Calculator{catalog: catalog}
}

// Generate builds a timesheet for taskID from the baselines of the
// reference project's strategy. Each baseline becomes one entry owned by
// the task's calculator.
func (c *Calculator) Generate(ctx context.Context, taskID, referenceProjectID int64) (Calculation, error) {
	task, err := c.catalog.Task(ctx, taskID)
	if err != nil {
		return Calculation{}, err
	}
	projects, err := c.catalog.HistoricalProjects(ctx, "")
	if err != nil {
		return Calculation{}, err
	}
	var ref *HistoricalProject
	for i := range projects {
		if projects[i].ID == referenceProjectID {
			ref = &projects[i]
			break
		}
	}
	if ref == nil {
		return Calculation{}, ErrProjectNotFound
	}

	calc := Calculation{
		ID:                 uuid.NewString(),
		TaskID:             task.ID,
		ReferenceProjectID: ref.ID,
		Timesheet:          []TimesheetEntry{},
	}

	strategy, err := FindStrategy(ctx, c.catalog, ref.StrategyID)
	if errors.Is(err, ErrStrategyNotFound) {
		// Custom strategies start from an empty timesheet.
		return calc, nil
	} else if err != nil {
		return Calculation{}, err
	}
	all, err := c.catalog.Baselines(ctx)
	if err != nil {
		return Calculation{}, err
	}
	rows, err := resolveBaselines(all, strategy.BaselineIDs)
	if err != nil {
		return Calculation{}, err
	}
	for _, b := range rows {
		calc.Timesheet = append(calc.Timesheet, TimesheetEntry{
			Person: task.Calculator,
			Task:   b.Name,
			Hours:  float64(b.Hours),
		})
	}
	return calc, nil
}

var (
	addCommand    = regexp.MustCompile(`(?i)^(?:add|添加|增加|新增)\s*(.+?)\s*(\d+(?:\.\d+)?)\s*(?:h|hours?|小时|工时)?$`)
	removeCommand = regexp.MustCompile(`(?i)^(?:remove|delete|删除|移除|去掉)\s*(.+?)$`)
	setCommand    = regexp.MustCompile(`(?i)^(?:set|change|修改|设置|调整)\s*(.+?)\s*(?:to|为|成|到)?\s*(\d+(?:\.\d+)?)\s*(?:h|hours?|小时|工时)?$`)
)

// Modify applies a natural-language edit to a copy of timesheet. Supported
// forms are "add <person> <hours>", "remove <entry>" and
// "set <entry> to <hours>", plus their Chinese equivalents. An entry is
// named by its task, or by its person when that person has a single row.
func Modify(command string, timesheet []TimesheetEntry) ([]TimesheetEntry, error) {
	command = strings.TrimSpace(command)
	out := append([]TimesheetEntry{}, timesheet...)

	if m := addCommand.FindStringSubmatch(command); m != nil {
		hours, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse hours %q: %w", m[2], err)
		}
		return append(out, TimesheetEntry{Person: strings.TrimSpace(m[1]), Hours: hours}), nil
	}
	if m := setCommand.FindStringSubmatch(command); m != nil {
		hours, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse hours %q: %w", m[2], err)
		}
		i, err := findEntry(out, m[1])
		if err != nil {
			return nil, err
		}
		out[i].Hours = hours
		return out, nil
	}
	if m := removeCommand.FindStringSubmatch(command); m != nil {
		i, err := findEntry(out, m[1])
		if err != nil {
			return nil, err
		}
		return append(out[:i], out[i+1:]...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

// findEntry resolves name to one row, trying task names before persons.
func findEntry(timesheet []TimesheetEntry, name string) (int, error) {
	name = strings.TrimSpace(name)
	byTask := matchingRows(timesheet, name, func(e TimesheetEntry) string { return e.Task })
	byPerson := matchingRows(timesheet, name, func(e TimesheetEntry) string { return e.Person })
	for _, rows := range [][]int{byTask, byPerson} {
		switch len(rows) {
		case 0:
			continue
		case 1:
			return rows[0], nil
		default:
			return -1, fmt.Errorf("%w: %s matches %d rows, name the task instead", ErrAmbiguousEntry, name, len(rows))
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

func matchingRows(timesheet []TimesheetEntry, name string, key func(TimesheetEntry) string) []int {
	var rows []int
	for i, e := range timesheet {
		if k := strings.TrimSpace(key(e)); k != "" && strings.EqualFold(k, name) {
			rows = append(rows, i)
		}
	}
	return rows
}

// Validate checks that every entry names a person and books a positive
// whole number of hours.
func Validate(timesheet []TimesheetEntry) ValidationResult {
	res := ValidationResult{Errors: []string{}}
	if len(timesheet) == 0 {
		res.Errors = append(res.Errors, "工时表为空")
	}
	for i, e := range timesheet {
		if strings.TrimSpace(e.Person) == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("第%d行：缺少人员", i+1))
		}
		if e.Hours <= 0 || e.Hours != math.Trunc(e.Hours) {
			res.Errors = append(res.Errors, fmt.Sprintf("第%d行：%s 的工时必须为正整数（当前为 %v）", i+1, e.Person, e.Hours))
		}
	}
	res.IsValid = len(res.Errors) == 0
	return res
}
