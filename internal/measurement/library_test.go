package measurement

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefault(t *testing.T) *Library {
	t.Helper()
	lib, err := LoadLibrary("")
	require.NoError(t, err)
	return lib
}

func TestLoadDefaultLibrary(t *testing.T) {
	lib := loadDefault(t)
	assert.Len(t, lib.Baselines, 10)
	assert.Len(t, lib.Strategies, 3)
	assert.True(t, lib.Strategies[2].Custom())
	assert.Equal(t, "南京汽车测试项目", lib.Tasks[0].Name)
	assert.Equal(t, "1460139557956620288", lib.Projects[1].ProjectID)
	require.Len(t, lib.Records, 2)
	assert.Equal(t, 2025, lib.Records[0].CreatedAt.Year())
}

func TestLoadLibraryFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
baselines:
  - {id: 7, power_config: X, name: 只一项, hours: 8, months: 1}
strategies:
  - {id: 1, name: 唯一, baseline_ids: [7]}
`), 0o600))

	lib, err := LoadLibrary(path)
	require.NoError(t, err)
	assert.Len(t, lib.Baselines, 1)
	assert.Equal(t, "只一项", lib.Baselines[0].Name)
}

func TestLoadLibraryMissingFile(t *testing.T) {
	_, err := LoadLibrary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseLibraryRejectsDanglingStrategy(t *testing.T) {
	_, err := ParseLibrary([]byte(`
baselines: [{id: 1, name: a}]
strategies: [{id: 1, name: s, baseline_ids: [1, 2]}]
`))
	assert.ErrorContains(t, err, "unknown baseline 2")
}

func TestParseLibraryRejectsDuplicateBaseline(t *testing.T) {
	_, err := ParseLibrary([]byte(`baselines: [{id: 1}, {id: 1}]`))
	assert.ErrorContains(t, err, "duplicate baseline id 1")
}

func TestHistoricalRowJSONFlattensMonths(t *testing.T) {
	lib := loadDefault(t)
	details, err := NewMemoryCatalog(lib).HistoricalDetails(context.Background(), 101)
	require.NoError(t, err)
	require.Len(t, details.TableData, 3)
	assert.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, details.DynamicColumns)

	raw, err := json.Marshal(details)
	require.NoError(t, err)
	var decoded struct {
		TableData      []map[string]any `json:"table_data"`
		DynamicColumns []string         `json:"dynamic_columns"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	row := decoded.TableData[0]
	assert.Equal(t, "计算数模质量质心", row["一级任务"])
	assert.EqualValues(t, 40, row["基准工时"])
	assert.EqualValues(t, 20, row["2025-01"])
	assert.EqualValues(t, 1, row["id"])
}
