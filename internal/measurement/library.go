package measurement

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed library.yaml
var defaultLibrary []byte

// Library is the static measurement data set: persons, tasks, the baseline
// library, strategies and sample history.
type Library struct {
	Persons           []Person                    `yaml:"persons"`
	Tasks             []Task                      `yaml:"tasks"`
	Projects          map[int64]ProjectDetails    `yaml:"projects"`
	Historical        []HistoricalProject         `yaml:"historical"`
	HistoricalDetails map[int64]HistoricalDetails `yaml:"historical_details"`
	Baselines         []Baseline                  `yaml:"baselines"`
	Strategies        []Strategy                  `yaml:"strategies"`
	Records           []Record                    `yaml:"records"`
}

// LoadLibrary reads a library file, or the embedded default when path is
// empty.
func LoadLibrary(path string) (*Library, error) {
	raw := defaultLibrary
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read library %s: %w", p, err)
		}
		raw = b
	}
	return ParseLibrary(raw)
}

// ParseLibrary decodes and checks a YAML library document.
func ParseLibrary(raw []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(raw, &lib); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return &lib, nil
}

func (l *Library) validate() error {
	baselines := make(map[int]bool, len(l.Baselines))
	for _, b := range l.Baselines {
		if baselines[b.ID] {
			return fmt.Errorf("library: duplicate baseline id %d", b.ID)
		}
		baselines[b.ID] = true
	}
	for _, s := range l.Strategies {
		for _, id := range s.BaselineIDs {
			if !baselines[id] {
				return fmt.Errorf("library: strategy %d references unknown baseline %d", s.ID, id)
			}
		}
	}
	tasks := make(map[int64]bool, len(l.Tasks))
	for _, t := range l.Tasks {
		if tasks[t.ID] {
			return fmt.Errorf("library: duplicate task id %d", t.ID)
		}
		tasks[t.ID] = true
	}
	return nil
}

func (l *Library) historicalDetails(projectID int64) (HistoricalDetails, error) {
	d, ok := l.HistoricalDetails[projectID]
	if !ok {
		for _, p := range l.Historical {
			if p.ID == projectID {
				return HistoricalDetails{TableData: []HistoricalRow{}, DynamicColumns: []string{}}, nil
			}
		}
		return HistoricalDetails{}, ErrProjectNotFound
	}
	out := HistoricalDetails{
		TableData:      append([]HistoricalRow(nil), d.TableData...),
		DynamicColumns: append([]string(nil), d.DynamicColumns...),
	}
	return out, nil
}

// resolveBaselines maps ids to library rows, preserving order.
func resolveBaselines(all []Baseline, ids []int) ([]Baseline, error) {
	out := make([]Baseline, 0, len(ids))
	for _, id := range ids {
		found := false
		for _, b := range all {
			if b.ID == id {
				out = append(out, b)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %d", ErrBaselineNotFound, id)
		}
	}
	return out, nil
}
