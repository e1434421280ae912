package measurement

import (
	"context"
	"strings"
)

// Catalog is read access to measurement reference data.
type Catalog interface {
	Persons(ctx context.Context) ([]Person, error)
	// Tasks lists pending tasks; an empty personID lists every task.
	Tasks(ctx context.Context, personID string) ([]Task, error)
	Task(ctx context.Context, taskID int64) (Task, error)
	TaskDetails(ctx context.Context, taskID int64) (ProjectDetails, error)
	// HistoricalProjects lists measured projects; an empty department lists all.
	HistoricalProjects(ctx context.Context, department string) ([]HistoricalProject, error)
	HistoricalDetails(ctx context.Context, projectID int64) (HistoricalDetails, error)
	Baselines(ctx context.Context) ([]Baseline, error)
	Strategies(ctx context.Context) ([]Strategy, error)
}

// RecordStore keeps submitted measurement records.
type RecordStore interface {
	AppendRecord(ctx context.Context, record Record) error
	// Records lists records oldest first; an empty personID lists all.
	Records(ctx context.Context, personID string) ([]Record, error)
	Record(ctx context.Context, id string) (Record, error)
}

// FindPerson looks up a single person by id.
func FindPerson(ctx context.Context, c Catalog, personID string) (Person, error) {
	persons, err := c.Persons(ctx)
	if err != nil {
		return Person{}, err
	}
	for _, p := range persons {
		if p.ID == personID {
			return p, nil
		}
	}
	return Person{}, ErrPersonNotFound
}

// FindStrategy looks up a single strategy by id.
func FindStrategy(ctx context.Context, c Catalog, strategyID int) (Strategy, error) {
	strategies, err := c.Strategies(ctx)
	if err != nil {
		return Strategy{}, err
	}
	for _, s := range strategies {
		if s.ID == strategyID {
			return s, nil
		}
	}
	return Strategy{}, ErrStrategyNotFound
}

func sameDepartment(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
