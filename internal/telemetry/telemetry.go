// Package telemetry records per-call usage and cost so runs can be billed
// and audited after the fact.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageRecord is one generation call's accounting entry.
type UsageRecord struct {
	RunID            string  `json:"run_id"`
	Persona          string  `json:"persona"`
	Stage            string  `json:"stage"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
	Cached           bool    `json:"cached"`
	Timestamp        int64   `json:"timestamp"`
}

// RunTotals aggregates usage across one run.
type RunTotals struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Calls            int
	CacheHits        int
}

// Tracker appends usage records to a JSONL file.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker builds a tracker writing to path, creating parent directories
// as needed.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	return &Tracker{path: path}, nil
}

// Record appends one usage record.
func (t *Tracker) Record(record UsageRecord) error {
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open telemetry log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to write usage record: %w", err)
	}
	return nil
}

// Summarize totals tokens and cost for one run. Corrupt lines are skipped.
func (t *Tracker) Summarize(runID string) (RunTotals, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	totals := RunTotals{}

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return totals, nil
		}
		return totals, fmt.Errorf("failed to open telemetry log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record UsageRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.RunID != runID {
			continue
		}
		totals.PromptTokens += record.PromptTokens
		totals.CompletionTokens += record.CompletionTokens
		totals.Cost += record.Cost
		totals.Calls++
		if record.Cached {
			totals.CacheHits++
		}
	}
	if err := scanner.Err(); err != nil {
		return totals, fmt.Errorf("failed to read telemetry log: %w", err)
	}
	return totals, nil
}
