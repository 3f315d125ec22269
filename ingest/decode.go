package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mmdatafocus/depletions_backend/normalizer"
	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFile = errors.New("unsupported report file: only .csv and .xlsx are accepted")

// Decode picks the decoder from the file extension.
func Decode(filename string, r io.Reader) ([]normalizer.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return DecodeCSV(r)
	case ".xlsx":
		return DecodeXLSX(r)
	}
	return nil, ErrUnsupportedFile
}

// DecodeCSV reads a comma separated report whose first row is the header.
func DecodeCSV(r io.Reader) ([]normalizer.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return rowsToRecords(rows), nil
}

// DecodeXLSX reads the first sheet of a workbook whose first row is the header.
func DecodeXLSX(r io.Reader) ([]normalizer.RawRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet %s: %w", sheets[0], err)
	}
	return rowsToRecords(rows), nil
}

// rowsToRecords keys every data row by the header. Blank rows are dropped;
// short rows leave the missing cells empty.
func rowsToRecords(rows [][]string) []normalizer.RawRecord {
	if len(rows) == 0 {
		return nil
	}
	header := rows[0]
	records := make([]normalizer.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		rec := make(normalizer.RawRecord, len(header))
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := rec[name]; dup {
				continue
			}
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
