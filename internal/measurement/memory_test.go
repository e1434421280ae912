package measurement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCatalogTasksByPerson(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(loadDefault(t))

	all, err := c.Tasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := c.Tasks(ctx, "P002")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(3), mine[0].ID)
}

func TestMemoryCatalogTaskDetails(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(loadDefault(t))

	d, err := c.TaskDetails(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "ES11中东版", d.ProjectName)

	_, err = c.TaskDetails(ctx, 999)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryCatalogHistoricalByDepartment(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(loadDefault(t))

	got, err := c.HistoricalProjects(ctx, "电驱系统研发部")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(103), got[0].ID)

	// Known project without breakdown rows yields an empty table.
	d, err := c.HistoricalDetails(ctx, 103)
	require.NoError(t, err)
	assert.Empty(t, d.TableData)
	assert.NotNil(t, d.TableData)

	_, err = c.HistoricalDetails(ctx, 999)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestMemoryCatalogRecords(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(loadDefault(t))

	require.NoError(t, c.AppendRecord(ctx, Record{TaskID: 3, PersonID: "P002", Title: "DE001"}))
	require.NoError(t, c.AppendRecord(ctx, Record{TaskID: 1, PersonID: "P001", Title: "NJ"}))

	p2, err := c.Records(ctx, "P002")
	require.NoError(t, err)
	require.Len(t, p2, 3)
	assert.Equal(t, "DE001", p2[2].Title)
	assert.NotEmpty(t, p2[2].ID)
	assert.False(t, p2[2].CreatedAt.IsZero())

	r, err := c.Record(ctx, "sample-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, r.BaselineIDs)

	_, err = c.Record(ctx, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryCatalogReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(loadDefault(t))
	b, err := c.Baselines(ctx)
	require.NoError(t, err)
	b[0].Hours = 9999

	again, err := c.Baselines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, again[0].Hours)
}

func TestFindHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(loadDefault(t))

	p, err := FindPerson(ctx, c, "P001")
	require.NoError(t, err)
	assert.Equal(t, "小明", p.Name)
	_, err = FindPerson(ctx, c, "P404")
	assert.ErrorIs(t, err, ErrPersonNotFound)

	s, err := FindStrategy(ctx, c, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, s.BaselineIDs)
	_, err = FindStrategy(ctx, c, 42)
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}
