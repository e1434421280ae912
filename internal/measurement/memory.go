package measurement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCatalog serves a Library from memory and keeps submitted records in
// process. It implements both Catalog and RecordStore.
type MemoryCatalog struct {
	lib *Library

	mu      sync.RWMutex
	records []Record
}

func NewMemoryCatalog(lib *Library) *MemoryCatalog {
	return &MemoryCatalog{
		lib:     lib,
		records: append([]Record(nil), lib.Records...),
	}
}

func (c *MemoryCatalog) Persons(context.Context) ([]Person, error) {
	return append([]Person(nil), c.lib.Persons...), nil
}

func (c *MemoryCatalog) Tasks(_ context.Context, personID string) ([]Task, error) {
	out := make([]Task, 0, len(c.lib.Tasks))
	for _, t := range c.lib.Tasks {
		if personID == "" || t.PersonID == personID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *MemoryCatalog) Task(_ context.Context, taskID int64) (Task, error) {
	for _, t := range c.lib.Tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return Task{}, ErrTaskNotFound
}

func (c *MemoryCatalog) TaskDetails(ctx context.Context, taskID int64) (ProjectDetails, error) {
	if d, ok := c.lib.Projects[taskID]; ok {
		return d, nil
	}
	t, err := c.Task(ctx, taskID)
	if err != nil {
		return ProjectDetails{}, err
	}
	return ProjectDetails{
		ProjectName: t.Name,
		Department:  t.Department,
		Brand:       t.Brand,
		Scale:       t.Spec,
		Calculator:  t.Calculator,
	}, nil
}

func (c *MemoryCatalog) HistoricalProjects(_ context.Context, department string) ([]HistoricalProject, error) {
	out := make([]HistoricalProject, 0, len(c.lib.Historical))
	for _, p := range c.lib.Historical {
		if department == "" || sameDepartment(p.Department, department) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *MemoryCatalog) HistoricalDetails(_ context.Context, projectID int64) (HistoricalDetails, error) {
	return c.lib.historicalDetails(projectID)
}

func (c *MemoryCatalog) Baselines(context.Context) ([]Baseline, error) {
	return append([]Baseline(nil), c.lib.Baselines...), nil
}

func (c *MemoryCatalog) Strategies(context.Context) ([]Strategy, error) {
	return append([]Strategy(nil), c.lib.Strategies...), nil
}

func (c *MemoryCatalog) AppendRecord(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *MemoryCatalog) Records(_ context.Context, personID string) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(c.records))
	for _, r := range c.records {
		// Records without an owner are shared samples.
		if personID == "" || r.PersonID == "" || r.PersonID == personID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *MemoryCatalog) Record(_ context.Context, id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (c *MemoryCatalog) Close() error { return nil }
