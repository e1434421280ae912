package measurement

import (
	"fmt"
	"strings"
)

// ConfigMonths is the schedule length accumulated for one power configuration.
type ConfigMonths struct {
	PowerConfig string `json:"powerConfig"`
	Months      int    `json:"months"`
}

// Summary aggregates a set of baseline rows.
type Summary struct {
	Count       int            `json:"count"`
	TotalHours  int            `json:"total_hours"`
	ConfigCount int            `json:"config_count"`
	Months      []ConfigMonths `json:"months"`
}

// Summarize totals hours and groups months by power configuration in
// first-seen order.
func Summarize(rows []Baseline) Summary {
	s := Summary{Count: len(rows)}
	index := make(map[string]int)
	for _, row := range rows {
		s.TotalHours += row.Hours
		i, ok := index[row.PowerConfig]
		if !ok {
			i = len(s.Months)
			index[row.PowerConfig] = i
			s.Months = append(s.Months, ConfigMonths{PowerConfig: row.PowerConfig})
		}
		s.Months[i].Months += row.Months
	}
	s.ConfigCount = len(s.Months)
	return s
}

// Text renders the paragraph shown under the baseline table.
func (s Summary) Text() string {
	parts := make([]string, 0, len(s.Months))
	for _, m := range s.Months {
		parts = append(parts, fmt.Sprintf("%s%d个月", m.PowerConfig, m.Months))
	}
	return fmt.Sprintf("共查询到 %d 条基准任务工时记录；总目标工时合计:%d工时；动力配置总数: %d 种；日程月数:%s。",
		s.Count, s.TotalHours, s.ConfigCount, strings.Join(parts, "，"))
}

// Review is the baseline detail card: the working rows and their summary.
type Review struct {
	Baselines []Baseline `json:"baselines"`
	Summary   Summary    `json:"summary"`
	Text      string     `json:"text"`
}

func newReview(rows []Baseline) Review {
	sum := Summarize(rows)
	return Review{
		Baselines: append([]Baseline(nil), rows...),
		Summary:   sum,
		Text:      sum.Text(),
	}
}
