// Package export writes approved content to CSV for downstream
// scheduling tools. Each run gets its own file; a master CSV accumulates
// every exported row across runs.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/queue"
)

var header = []string{
	"run_id",
	"persona",
	"text",
	"thread_part_index",
	"thread_total",
	"is_thread",
	"quality_issues",
	"source_topic",
	"source_url",
	"content_type",
	"estimated_cost",
	"status",
	"approved_by",
	"approved_at",
	"exported_at",
}

// Options configure the exporter.
type Options struct {
	Enabled       bool
	ExportDir     string
	MasterCSV     bool
	MasterCSVPath string
}

// Exporter writes per-run CSV files plus an optional master CSV.
type Exporter struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{opts: opts, logger: logger}
}

// WriteRecords writes one row per post (thread parts expand to one row
// each). The per-run file is rewritten whole; the master CSV is append
// only, header written once. Disabled exporters write nothing.
func (e *Exporter) WriteRecords(runID string, records []*queue.ExportRecord) (string, error) {
	if !e.opts.Enabled || len(records) == 0 {
		return "", nil
	}

	rows := buildRows(records)
	if err := os.MkdirAll(e.opts.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(e.opts.ExportDir, fmt.Sprintf("run_%s.csv", runID))
	if err := writeCSV(path, rows, true); err != nil {
		return "", err
	}
	e.logger.Info("run exported",
		zap.String("run_id", runID),
		zap.String("path", path),
		zap.Int("rows", len(rows)))

	if e.opts.MasterCSV && e.opts.MasterCSVPath != "" {
		if err := os.MkdirAll(filepath.Dir(e.opts.MasterCSVPath), 0o755); err != nil {
			return "", fmt.Errorf("create master csv dir: %w", err)
		}
		if err := writeCSV(e.opts.MasterCSVPath, rows, false); err != nil {
			return "", err
		}
	}
	return path, nil
}

func buildRows(records []*queue.ExportRecord) [][]string {
	var rows [][]string
	for _, rec := range records {
		parts := rec.ThreadParts
		isThread := rec.IsThread && len(parts) > 0
		if !isThread {
			parts = []string{rec.Content}
		}
		for i, part := range parts {
			rows = append(rows, []string{
				rec.RunID,
				rec.Persona,
				part,
				strconv.Itoa(i + 1),
				strconv.Itoa(len(parts)),
				strconv.FormatBool(isThread),
				joinIssues(rec.Issues),
				rec.Topic,
				rec.SourceURL,
				rec.TopicType,
				strconv.FormatFloat(rec.EstimatedCost, 'f', 6, 64),
				"exported",
				rec.ApprovedBy,
				rec.ApprovedAt,
				rec.ExportedAt,
			})
		}
	}
	return rows
}

func joinIssues(issues []string) string {
	out := ""
	for i, issue := range issues {
		if i > 0 {
			out += "; "
		}
		out += issue
	}
	return out
}

func writeCSV(path string, rows [][]string, overwrite bool) error {
	var (
		file        *os.File
		err         error
		writeHeader bool
	)
	if overwrite {
		file, err = os.Create(path)
		writeHeader = true
	} else {
		_, statErr := os.Stat(path)
		writeHeader = os.IsNotExist(statErr)
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return fmt.Errorf("open csv %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
