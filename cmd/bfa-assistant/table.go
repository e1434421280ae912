package main

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/bfalabs/bfa-assistant/internal/measurement"
)

const maxCellWidth = 24

var taskColumns = []string{"ID", "项目名称", "部门", "测算人", "品牌", "规格"}

func taskRow(t measurement.Task) []string {
	return []string{strconv.FormatInt(t.ID, 10), t.Name, t.Department, t.Calculator, t.Brand, t.Spec}
}

// renderTaskTable lays tasks out in columns padded by display width, so
// rows with CJK text line up in a terminal.
func renderTaskTable(tasks []measurement.Task) string {
	if len(tasks) == 0 {
		return "暂无任务"
	}
	rows := make([][]string, 0, len(tasks)+1)
	rows = append(rows, append([]string(nil), taskColumns...))
	for _, t := range tasks {
		rows = append(rows, taskRow(t))
	}

	widths := make([]int, len(taskColumns))
	for _, row := range rows {
		for i, cell := range row {
			row[i] = runewidth.Truncate(cell, maxCellWidth, "…")
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			if i == len(row)-1 {
				b.WriteString(cell)
				continue
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		if r < len(rows)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
