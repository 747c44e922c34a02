package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// CSVExporter renders Dataset records into CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Extension is the file suffix for rendered output.
func (e *CSVExporter) Extension() string { return "csv" }

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := e.Stream(buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stream writes the dataset to w without buffering the whole document.
func (e *CSVExporter) Stream(w io.Writer, data Dataset) error {
	if err := data.validate("csv"); err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(data.Headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		if err := writer.Write(data.record(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
