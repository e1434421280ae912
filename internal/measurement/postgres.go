package measurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads persons, tasks and projects from the LIS tables and
// keeps submitted records in measurement_records. The baseline library and
// strategies still come from a Library.
type PostgresCatalog struct {
	pool *pgxpool.Pool
	lib  *Library
}

func NewPostgresCatalog(ctx context.Context, databaseURL string, lib *Library) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initRecordSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresCatalog{pool: pool, lib: lib}, nil
}

func initRecordSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS measurement_records (
			id TEXT PRIMARY KEY,
			task_id BIGINT NOT NULL,
			person_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_measurement_records_person ON measurement_records (person_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}

// Ping reports whether the database is reachable.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *PostgresCatalog) Persons(ctx context.Context) ([]Person, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT DISTINCT ON (measure_person_id) measure_person_id, COALESCE(person, ''), COALESCE(person_department, '')
		 FROM lis_measure_person
		 WHERE measure_person_id IS NOT NULL AND measure_person_id <> ''
		 ORDER BY measure_person_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Department); err != nil {
			return nil, fmt.Errorf("scan person row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate person rows: %w", err)
	}
	return out, nil
}

// Each project is listed once, with the person row of lowest id as its
// primary calculator.
const taskQuery = `
	SELECT p.id, COALESCE(p.measures_project, ''), COALESCE(mp.person_department, ''),
	       COALESCE(mp.person, ''), COALESCE(p.brand, ''), COALESCE(p.sml, ''),
	       COALESCE(mp.measure_person_id, '')
	FROM lis_project p
	JOIN (SELECT project_id, MIN(id) AS min_person_id
	      FROM lis_measure_person GROUP BY project_id) ps
	  ON CAST(p.id AS VARCHAR(32)) = ps.project_id
	JOIN lis_measure_person mp ON mp.id = ps.min_person_id`

func scanTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Name, &t.Department, &t.Calculator, &t.Brand, &t.Spec, &t.PersonID); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (c *PostgresCatalog) Tasks(ctx context.Context, personID string) ([]Task, error) {
	rows, err := c.pool.Query(ctx,
		taskQuery+` WHERE p.measure_tag = '0' AND ($1 = '' OR mp.measure_person_id = $1) ORDER BY p.id`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	return scanTasks(rows)
}

func (c *PostgresCatalog) Task(ctx context.Context, taskID int64) (Task, error) {
	rows, err := c.pool.Query(ctx, taskQuery+` WHERE p.id = $1`, taskID)
	if err != nil {
		return Task{}, fmt.Errorf("query task: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return Task{}, err
	}
	if len(tasks) == 0 {
		return Task{}, ErrTaskNotFound
	}
	return tasks[0], nil
}

var measureStatusText = map[string]string{
	"0": "待测算",
	"1": "测算中",
	"2": "已测算",
}

func (c *PostgresCatalog) TaskDetails(ctx context.Context, taskID int64) (ProjectDetails, error) {
	var (
		d                ProjectDetails
		id               int64
		status           string
		created, updated *time.Time
	)
	err := c.pool.QueryRow(ctx,
		`SELECT p.id, COALESCE(p.measures_project, ''), COALESCE(mp.person_department, ''),
		        COALESCE(p.brand, ''), COALESCE(p.sml, ''), COALESCE(p.measure_status, ''),
		        COALESCE(mp.person, ''), p.create_time, p.update_time,
		        COALESCE(string_agg(o.order_name, '.' ORDER BY o.id), ''),
		        COALESCE(string_agg(o.power_conf, ',' ORDER BY o.id), '')
		 FROM lis_project p
		 LEFT JOIN (SELECT project_id, MIN(id) AS min_person_id
		            FROM lis_measure_person GROUP BY project_id) ps
		   ON CAST(p.id AS VARCHAR(32)) = ps.project_id
		 LEFT JOIN lis_measure_person mp ON mp.id = ps.min_person_id
		 LEFT JOIN lis_project_order o ON o.project_id = CAST(p.id AS VARCHAR(32))
		 WHERE p.id = $1
		 GROUP BY p.id, mp.id`,
		taskID,
	).Scan(&id, &d.ProjectName, &d.Department, &d.Brand, &d.Scale, &status, &d.Calculator, &created, &updated, &d.OrderInfo, &d.PowerConfig)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProjectDetails{}, ErrTaskNotFound
	}
	if err != nil {
		return ProjectDetails{}, fmt.Errorf("query task details: %w", err)
	}
	d.ProjectID = fmt.Sprintf("%d", id)
	d.Status = measureStatusText[status]
	if d.Status == "" {
		d.Status = status
	}
	d.CreatedAt = formatTimestamp(created)
	d.UpdatedAt = formatTimestamp(updated)
	return d, nil
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// HistoricalProjects lists measured projects. Strategies are assigned by
// position, the last strategy covering any overflow.
func (c *PostgresCatalog) HistoricalProjects(ctx context.Context, department string) ([]HistoricalProject, error) {
	rows, err := c.pool.Query(ctx,
		taskQuery+` WHERE p.measure_tag <> '0' AND ($1 = '' OR mp.person_department = $1) ORDER BY p.id`,
		department)
	if err != nil {
		return nil, fmt.Errorf("query historical projects: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	out := make([]HistoricalProject, 0, len(tasks))
	for i, t := range tasks {
		p := HistoricalProject{
			ID:         t.ID,
			Name:       t.Name,
			Department: t.Department,
			Calculator: t.Calculator,
			Brand:      t.Brand,
			Spec:       t.Spec,
		}
		if n := len(c.lib.Strategies); n > 0 {
			p.StrategyID = c.lib.Strategies[min(i, n-1)].ID
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *PostgresCatalog) HistoricalDetails(_ context.Context, projectID int64) (HistoricalDetails, error) {
	d, err := c.lib.historicalDetails(projectID)
	if errors.Is(err, ErrProjectNotFound) {
		return HistoricalDetails{TableData: []HistoricalRow{}, DynamicColumns: []string{}}, nil
	}
	return d, err
}

func (c *PostgresCatalog) Baselines(context.Context) ([]Baseline, error) {
	return append([]Baseline(nil), c.lib.Baselines...), nil
}

func (c *PostgresCatalog) Strategies(context.Context) ([]Strategy, error) {
	return append([]Strategy(nil), c.lib.Strategies...), nil
}

type recordPayload struct {
	BaselineNames []string   `json:"baseline"`
	BaselineIDs   []int      `json:"baselineIds"`
	Baselines     []Baseline `json:"baselines,omitempty"`
	Summary       *Summary   `json:"summary,omitempty"`
}

func (c *PostgresCatalog) AppendRecord(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(recordPayload{
		BaselineNames: record.BaselineNames,
		BaselineIDs:   record.BaselineIDs,
		Baselines:     record.Baselines,
		Summary:       record.Summary,
	})
	if err != nil {
		return fmt.Errorf("marshal record payload: %w", err)
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO measurement_records (id, task_id, person_id, title, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.TaskID, record.PersonID, record.Title, payload, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

const recordQuery = `SELECT id, task_id, person_id, title, payload, created_at FROM measurement_records`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r       Record
		payload []byte
	)
	if err := row.Scan(&r.ID, &r.TaskID, &r.PersonID, &r.Title, &payload, &r.CreatedAt); err != nil {
		return Record{}, err
	}
	var p recordPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Record{}, fmt.Errorf("decode record payload: %w", err)
	}
	r.BaselineNames, r.BaselineIDs, r.Baselines, r.Summary = p.BaselineNames, p.BaselineIDs, p.Baselines, p.Summary
	return r, nil
}

func (c *PostgresCatalog) Records(ctx context.Context, personID string) ([]Record, error) {
	rows, err := c.pool.Query(ctx,
		recordQuery+` WHERE $1 = '' OR person_id = $1 OR person_id = '' ORDER BY created_at`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}

func (c *PostgresCatalog) Record(ctx context.Context, id string) (Record, error) {
	r, err := scanRecord(c.pool.QueryRow(ctx, recordQuery+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query record: %w", err)
	}
	return r, nil
}
