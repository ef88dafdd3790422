package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBuild_HeadersRenamed(t *testing.T) {
	data, err := Build([]string{"whatsapp_number", "payee_name", "raw_image_url"}, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"WhatsApp Number", "payee_name", "Download Link"}, rows[0])
}

func TestBuild_DownloadLinkCells(t *testing.T) {
	columns := []string{"payee_name", "raw_image_url"}
	rows := [][]any{
		{"ABC Electronics", "https://bucket.example.com/invoices/u/t1?sig=abc"},
		{"Corner Cafe", ""},
	}

	data, err := Build(columns, rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	val, err := f.GetCellValue("Sheet1", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Download", val)

	linked, target, err := f.GetCellHyperLink("Sheet1", "B2")
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, "https://bucket.example.com/invoices/u/t1?sig=abc", target)

	// Row with no image stays blank, no dangling hyperlink.
	val, err = f.GetCellValue("Sheet1", "B3")
	require.NoError(t, err)
	assert.Empty(t, val)
	linked, _, err = f.GetCellHyperLink("Sheet1", "B3")
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestBuild_MixedValueTypes(t *testing.T) {
	columns := []string{"expense_amount", "created_at", "payee_name"}
	rows := [][]any{
		{125.50, time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), nil},
	}

	data, err := Build(columns, rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	amount, err := f.GetCellValue("Sheet1", "A2")
	require.NoError(t, err)
	assert.Equal(t, "125.5", amount)

	name, err := f.GetCellValue("Sheet1", "C2")
	require.NoError(t, err)
	assert.Empty(t, name)
}
