package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rahul/tabletalk/internal/table"
)

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accrual accounts.csv")
	data := ",Company Code,Transaction Value,Clearing Date\n" +
		"0,1000,\"1,250.50\",2018-03-01\n" +
		"1,1000,99,2018-04-15\n" +
		",,,\n" +
		"2,2000,-3.25,\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	ds, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "accrual_accounts", ds.Name)
	assert.Equal(t,
		`CREATE TABLE accrual_accounts ("ID" INT, "Company Code" INT, "Transaction Value" FLOAT, "Clearing Date" DATETIME)`,
		ds.Schema)

	require.Len(t, ds.Table.Rows, 3)
	assert.Equal(t, int64(0), ds.Table.Rows[0][0])
	assert.Equal(t, 1250.5, ds.Table.Rows[0][2])
	assert.Equal(t, time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC), ds.Table.Rows[0][3])
	assert.Nil(t, ds.Table.Rows[2][3])
}

func TestLoadExcel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Region", "Units", "Price"},
		{"North", 10, 2.5},
		{"South", 4, 3},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ds, err := Load(path, "Q1 Sales")
	require.NoError(t, err)
	assert.Equal(t, "Q1_Sales", ds.Name)
	assert.Equal(t, []string{"Region", "Units", "Price"}, ds.Table.ColumnNames())
	assert.Equal(t, table.TypeText, ds.Table.Columns[0].Type)
	assert.Equal(t, table.TypeInt, ds.Table.Columns[1].Type)
	assert.Equal(t, table.TypeFloat, ds.Table.Columns[2].Type)
	assert.Len(t, ds.Table.Rows, 2)
}

func TestBuildHeaders(t *testing.T) {
	tbl := Build("t", []string{"Unnamed: 0", "a", "a", ""}, [][]string{{"1", "x", "y", "z", "extra"}})
	assert.Equal(t, []string{"ID", "a", "a.1", "Unnamed: 3", "Unnamed: 4"}, tbl.ColumnNames())
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		values []string
		want   table.ColumnType
	}{
		{[]string{"1", "2", ""}, table.TypeInt},
		{[]string{"1", "2.5"}, table.TypeFloat},
		{[]string{"2020-01-01", "01/31/2021"}, table.TypeDatetime},
		{[]string{"1", "north"}, table.TypeText},
		{[]string{"", " "}, table.TypeText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectType(tt.values), "%v", tt.values)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("data.json", "")
	assert.ErrorContains(t, err, "unsupported data file")

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = Load(empty, "")
	assert.ErrorContains(t, err, "is empty")

	assert.Equal(t, "t_2024_data", TableName("2024 data"))
	assert.Equal(t, "data", TableName("???"))
}
