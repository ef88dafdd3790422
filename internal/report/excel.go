// Package report renders query results into an Excel workbook.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sheet1"

// Column headers are prettied up for the user-facing file. The image URL
// column becomes a clickable "Download" link instead of a raw presigned URL.
var renamedColumns = map[string]string{
	"raw_image_url":   "Download Link",
	"whatsapp_number": "WhatsApp Number",
}

// Build writes columns and rows into an xlsx workbook and returns its bytes.
// Cells in a raw_image_url column that hold a non-empty string become
// "Download" hyperlinks pointing at that string.
func Build(columns []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	linkStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "0000FF", Underline: "single"},
	})
	if err != nil {
		return nil, fmt.Errorf("create link style: %w", err)
	}

	linkCols := map[int]bool{}
	for i, col := range columns {
		header := col
		if renamed, ok := renamedColumns[col]; ok {
			header = renamed
		}
		if col == "raw_image_url" {
			linkCols[i] = true
		}
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, err
		}
	}

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if linkCols[c] {
				url, _ := value.(string)
				if url == "" {
					continue
				}
				if err := f.SetCellValue(sheetName, cell, "Download"); err != nil {
					return nil, err
				}
				if err := f.SetCellHyperLink(sheetName, cell, url, "External"); err != nil {
					return nil, fmt.Errorf("set hyperlink: %w", err)
				}
				if err := f.SetCellStyle(sheetName, cell, cell, linkStyle); err != nil {
					return nil, err
				}
				continue
			}
			if value == nil {
				continue
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
