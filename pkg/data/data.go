// Package data loads the rows a test configuration fans out over.
//
// Two shapes are recognized: tabular files with a header row (.csv, .xlsx)
// and structured lists of records (.json, .yaml, .yml). Every value is
// delivered as a string.
package data

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Row is one set of parameter values. Keys come from the header (tabular)
// or record keys (structured list).
type Row map[string]string

// Source resolves a data reference into rows.
type Source interface {
	LoadRows(ref string) ([]Row, error)
}

// ErrUnsupportedFormat is returned for file extensions with no loader.
var ErrUnsupportedFormat = errors.New("unsupported data format")

// ErrNoRows is returned when a file parses but holds no data rows.
var ErrNoRows = errors.New("data file has no rows")

// FileSource loads rows from local files. Relative references resolve
// against BaseDir when it is set.
type FileSource struct {
	BaseDir string
}

// LoadRows implements Source.
func (s FileSource) LoadRows(ref string) ([]Row, error) {
	path := ref
	if s.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.BaseDir, path)
	}
	return LoadRows(path)
}

// LoadRows reads path and returns its rows in file order.
func LoadRows(path string) ([]Row, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var (
		rows []Row
		err  error
	)
	switch ext {
	case ".csv":
		rows, err = loadCSV(path)
	case ".xlsx":
		rows, err = loadXLSX(path)
	case ".json":
		rows, err = loadStructured(path, json.Unmarshal)
	case ".yaml", ".yml":
		rows, err = loadStructured(path, yaml.Unmarshal)
	default:
		return nil, fmt.Errorf("%s: %w %q (expected .csv, .xlsx, .json, .yaml)", path, ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoRows)
	}
	return rows, nil
}

func loadCSV(path string) ([]Row, error) {
	raw, err := os.ReadFile(path) //#nosec G304 -- data file referenced by test config
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, rec)
	}
	return tabular(path, records)
}

func loadXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tabular(path, records)
}

// tabular maps records to rows using the first record as header. Short
// records are padded with empty strings; blank records are dropped.
func tabular(path string, records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
		if header[i] == "" {
			return nil, fmt.Errorf("%s: header column %d is empty", path, i+1)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("%s: row %d has %d columns, header has %d", path, n+2, len(rec), len(header))
		}
		row := make(Row, len(header))
		for i, key := range header {
			if i < len(rec) {
				row[key] = rec[i]
			} else {
				row[key] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func loadStructured(path string, unmarshal func([]byte, interface{}) error) ([]Row, error) {
	raw, err := os.ReadFile(path) //#nosec G304 -- data file referenced by test config
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var records []map[string]interface{}
	if err := unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%s: expected a list of records: %w", path, err)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := make(Row, len(rec))
		for k, v := range rec {
			row[k] = stringify(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers; print integers without exponent or decimals
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Merge overlays row on defaults. Row values win; neither input is modified.
func Merge(defaults map[string]string, row Row) map[string]string {
	out := make(map[string]string, len(defaults)+len(row))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range row {
		out[k] = v
	}
	return out
}
