package dispatcher

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/curlake/curlake/internal/engine"
)

// OutputFormat selects the serialized shape of a result frame.
type OutputFormat string

const (
	FormatFrame OutputFormat = "frame"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// ParseOutputFormat validates a format name, defaulting to frame.
func ParseOutputFormat(raw string) (OutputFormat, error) {
	switch OutputFormat(raw) {
	case "", FormatFrame:
		return FormatFrame, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: frame, json, csv)", raw)
	}
}

// JSONRows renders the frame as an array of column-keyed objects.
func JSONRows(frame engine.Frame) ([]byte, error) {
	records := make([]map[string]any, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		record := make(map[string]any, len(frame.Columns))
		for i, column := range frame.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode json rows: %w", err)
	}
	return data, nil
}

// CSVText renders the frame as CSV with a header row.
func CSVText(frame engine.Frame) (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(frame.Columns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range frame.Rows {
		record := make([]string, len(row))
		for i, cell := range row {
			if cell == nil {
				continue
			}
			record[i] = fmt.Sprint(cell)
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}
