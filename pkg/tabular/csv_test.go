package tabular

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportInfersColumnTypes(t *testing.T) {
	ctx := context.Background()
	table := setupTestTable(t)

	csvText := "id,name,score,mostly\n" +
		"1,ann,3.5,1\n" +
		"2,bob,,2\n" +
		"3,\"smith, jr\",x,3\n" +
		"4,dee,4,four\n" +
		"5,eve,5,5\n"

	stats, err := table.ImportFromCSV(ctx, csvText, true, ',')
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Rows)

	assert.Equal(t, []ColumnMeta{
		{Name: "id", Type: Numeric, Ordinal: 0},
		{Name: "name", Type: String, Ordinal: 1},
		{Name: "score", Type: Numeric, Ordinal: 2},
		{Name: "mostly", Type: Numeric, Ordinal: 3},
	}, table.Columns())

	rows := collect(t, table, 0, -1)
	require.Len(t, rows, 5)
	assert.Equal(t, "smith, jr", rows[2].Data["name"])
	assert.Nil(t, rows[1].Data["score"])
	assert.True(t, math.IsNaN(rows[2].Data["score"].(float64)))
	assert.True(t, math.IsNaN(rows[3].Data["mostly"].(float64)))
}

func TestImportHeaderlessUsesSyntheticNames(t *testing.T) {
	ctx := context.Background()
	table := setupTestTable(t)

	_, err := table.ImportFromCSV(ctx, "1;a\n2;b;extra\n3\n", false, ';')
	require.NoError(t, err)

	cols := table.Columns()
	require.Len(t, cols, 3)
	assert.Equal(t, "Column1", cols[0].Name)
	assert.Equal(t, "Column2", cols[1].Name)
	assert.Equal(t, "Column3", cols[2].Name)
	assert.Equal(t, Numeric, cols[0].Type)
	assert.Equal(t, String, cols[1].Type)

	row, err := table.GetRow(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Column1": 3.0}, row.Data)
}

func TestImportDeduplicatesHeader(t *testing.T) {
	ctx := context.Background()
	table := setupTestTable(t)

	_, err := table.ImportFromCSV(ctx, "a,a,,a\n1,2,3,4\n", true, ',')
	require.NoError(t, err)

	var names []string
	for _, c := range table.Columns() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"a", "a_2", "Column3", "a_3"}, names)
}

func TestCSVRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	first, err := Create(ctx, store, "first")
	require.NoError(t, err)

	csvText := "x,y,label\n1,2.5,\"say \"\"hi\"\"\"\n3,-4,plain\n5,1e6,\"multi\nline\"\n7,,nan-ish\n"
	_, err = first.ImportFromCSV(ctx, csvText, true, ',')
	require.NoError(t, err)

	exported, err := first.ExportToCSV(ctx, ',', true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(exported, "x,y,label\n"))
	assert.Contains(t, exported, `"say ""hi"""`)

	second, err := Create(ctx, store, "second")
	require.NoError(t, err)
	_, err = second.ImportFromCSV(ctx, exported, true, ',')
	require.NoError(t, err)

	assert.Equal(t, first.RowCount(), second.RowCount())
	assert.Equal(t, first.Columns(), second.Columns())
	assert.Equal(t, collect(t, first, 0, -1), collect(t, second, 0, -1))
}

func TestExportEscapesDelimiter(t *testing.T) {
	ctx := context.Background()
	table := setupTestTable(t)

	require.NoError(t, table.AddStringColumn(ctx, "a;b", []string{"x;y", "plain"}))
	require.NoError(t, table.AddNumericColumn(ctx, "n", []float64{math.NaN(), 2}))

	out, err := table.ExportToCSV(ctx, ';', true)
	require.NoError(t, err)
	assert.Equal(t, "\"a;b\";n\n\"x;y\";NaN\nplain;2\n", out)

	out, err = table.ExportToCSV(ctx, ',', false)
	require.NoError(t, err)
	assert.Equal(t, "x;y,NaN\nplain,2\n", out)
}

func TestImportAppendAndOverwrite(t *testing.T) {
	ctx := context.Background()
	table := setupTestTable(t)

	require.NoError(t, table.AddNumericColumn(ctx, "a", []float64{1}))

	stats, err := table.ImportFromCSV(ctx, "a,b\n2,x\n3,y\n", true, ',')
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 3, table.RowCount())

	rows := collect(t, table, 0, -1)
	assert.Equal(t, map[string]any{"a": 1.0}, rows[0].Data)
	assert.Equal(t, map[string]any{"a": 3.0, "b": "y"}, rows[2].Data)

	opts := DefaultCSVOptions()
	opts.Overwrite = true
	stats, err = table.ImportCSV(ctx, strings.NewReader("c\nhello\n"), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, 1, table.RowCount())
	assert.Equal(t, []ColumnMeta{{Name: "c", Type: String, Ordinal: 0}}, table.Columns())
}

func TestImportRejectsMalformedQuotes(t *testing.T) {
	table := setupTestTable(t)

	_, err := table.ImportFromCSV(context.Background(), "a\n\"unterminated\n", true, ',')
	assert.Error(t, err)
	assert.Zero(t, table.RowCount())
}
