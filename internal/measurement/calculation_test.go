package measurement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUsesReferenceStrategy(t *testing.T) {
	calc := NewCalculator(NewMemoryCatalog(loadDefault(t)))
	got, err := calc.Generate(context.Background(), 1, 102)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, int64(1), got.TaskID)
	assert.Equal(t, int64(102), got.ReferenceProjectID)
	assert.Equal(t, []TimesheetEntry{
		{Person: "小明", Task: "ET准入成本达成测量", Hours: 70},
		{Person: "小明", Task: "SE议题研讨", Hours: 80},
		{Person: "小明", Task: "标杆专利检索申请及报告确认", Hours: 90},
	}, got.Timesheet)
}

func TestGenerateCustomStrategyYieldsEmptyTimesheet(t *testing.T) {
	calc := NewCalculator(NewMemoryCatalog(loadDefault(t)))
	got, err := calc.Generate(context.Background(), 3, 103)
	require.NoError(t, err)
	assert.Empty(t, got.Timesheet)
	assert.NotNil(t, got.Timesheet)
}

func TestGenerateErrors(t *testing.T) {
	calc := NewCalculator(NewMemoryCatalog(loadDefault(t)))
	_, err := calc.Generate(context.Background(), 999, 101)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = calc.Generate(context.Background(), 1, 999)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

type failingStrategies struct {
	*MemoryCatalog
}

func (failingStrategies) Strategies(context.Context) ([]Strategy, error) {
	return nil, errors.New("strategies unavailable")
}

func TestGeneratePropagatesCatalogErrors(t *testing.T) {
	calc := NewCalculator(failingStrategies{NewMemoryCatalog(loadDefault(t))})
	_, err := calc.Generate(context.Background(), 1, 102)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStrategyNotFound)
	assert.Contains(t, err.Error(), "strategies unavailable")
}

func TestModifyGeneratedTimesheet(t *testing.T) {
	calc := NewCalculator(NewMemoryCatalog(loadDefault(t)))
	generated, err := calc.Generate(context.Background(), 1, 102)
	require.NoError(t, err)

	tests := []struct {
		name    string
		command string
		want    []TimesheetEntry
		wantErr error
	}{
		{
			name:    "set by task",
			command: "set SE议题研讨 to 10",
			want: []TimesheetEntry{
				{Person: "小明", Task: "ET准入成本达成测量", Hours: 70},
				{Person: "小明", Task: "SE议题研讨", Hours: 10},
				{Person: "小明", Task: "标杆专利检索申请及报告确认", Hours: 90},
			},
		},
		{
			name:    "set by task chinese",
			command: "修改标杆专利检索申请及报告确认为60工时",
			want: []TimesheetEntry{
				{Person: "小明", Task: "ET准入成本达成测量", Hours: 70},
				{Person: "小明", Task: "SE议题研讨", Hours: 80},
				{Person: "小明", Task: "标杆专利检索申请及报告确认", Hours: 60},
			},
		},
		{
			name:    "remove by task",
			command: "删除 ET准入成本达成测量",
			want: []TimesheetEntry{
				{Person: "小明", Task: "SE议题研讨", Hours: 80},
				{Person: "小明", Task: "标杆专利检索申请及报告确认", Hours: 90},
			},
		},
		{name: "remove shared person", command: "remove 小明", wantErr: ErrAmbiguousEntry},
		{name: "set shared person", command: "set 小明 to 5", wantErr: ErrAmbiguousEntry},
		{name: "unknown task", command: "set 不存在的任务 to 5", wantErr: ErrEntryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Modify(tt.command, generated.Timesheet)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, Validate(got).IsValid)
		})
	}
	assert.Len(t, generated.Timesheet, 3, "generated timesheet must not be mutated")
}

func TestModify(t *testing.T) {
	base := []TimesheetEntry{{Person: "Dev 1", Hours: 40}, {Person: "Dev 2", Hours: 32}}

	tests := []struct {
		name    string
		command string
		want    []TimesheetEntry
		wantErr error
	}{
		{
			name:    "add english",
			command: "add New Dev 20",
			want:    []TimesheetEntry{{Person: "Dev 1", Hours: 40}, {Person: "Dev 2", Hours: 32}, {Person: "New Dev", Hours: 20}},
		},
		{
			name:    "add chinese with unit",
			command: "添加张三 16小时",
			want:    []TimesheetEntry{{Person: "Dev 1", Hours: 40}, {Person: "Dev 2", Hours: 32}, {Person: "张三", Hours: 16}},
		},
		{
			name:    "set english",
			command: "set Dev 1 to 30",
			want:    []TimesheetEntry{{Person: "Dev 1", Hours: 30}, {Person: "Dev 2", Hours: 32}},
		},
		{
			name:    "set chinese",
			command: "修改Dev 2为8工时",
			want:    []TimesheetEntry{{Person: "Dev 1", Hours: 40}, {Person: "Dev 2", Hours: 8}},
		},
		{
			name:    "remove",
			command: "remove dev 1",
			want:    []TimesheetEntry{{Person: "Dev 2", Hours: 32}},
		},
		{
			name:    "remove chinese",
			command: "删除 Dev 2",
			want:    []TimesheetEntry{{Person: "Dev 1", Hours: 40}},
		},
		{name: "remove missing", command: "remove Nobody", wantErr: ErrEntryNotFound},
		{name: "set missing", command: "set Nobody to 3", wantErr: ErrEntryNotFound},
		{name: "unknown", command: "double everything", wantErr: ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Modify(tt.command, base)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, []TimesheetEntry{{Person: "Dev 1", Hours: 40}, {Person: "Dev 2", Hours: 32}}, base, "input must not be mutated")
}

func TestValidate(t *testing.T) {
	ok := Validate([]TimesheetEntry{{Person: "Dev 1", Hours: 40}})
	assert.True(t, ok.IsValid)
	assert.Empty(t, ok.Errors)

	bad := Validate([]TimesheetEntry{
		{Person: "Dev 1", Hours: 40},
		{Person: "Dev 2", Hours: 0},
		{Person: "Dev 3", Hours: 1.5},
		{Person: "", Hours: 8},
	})
	assert.False(t, bad.IsValid)
	require.Len(t, bad.Errors, 3)
	assert.Contains(t, bad.Errors[0], "第2行")
	assert.Contains(t, bad.Errors[1], "第3行")
	assert.Contains(t, bad.Errors[2], "第4行")

	empty := Validate(nil)
	assert.False(t, empty.IsValid)
}
