package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/config"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	logger, err := NewLogger(config.AuditConfig{Dir: t.TempDir(), MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open audit log: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid JSON line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")
	logger, err := NewLogger(config.AuditConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	expectedPath := filepath.Join(dir, FileName)
	if logger.GetFilePath() != expectedPath {
		t.Errorf("Expected file path %s, got %s", expectedPath, logger.GetFilePath())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Audit directory was not created: %v", err)
	}
}

func TestLogActionSuccess(t *testing.T) {
	logger := newTestLogger(t)

	ctx := WithUser(context.Background(), "operator-1")
	params := map[string]interface{}{"field": "voltage", "value": "12.5", "unit": "V"}
	logger.LogAction(ctx, "powerSupply", "setPoint", params, nil, 42*time.Millisecond)

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]

	if e.User != "operator-1" {
		t.Errorf("Expected user operator-1, got %s", e.User)
	}
	if e.Instrument != "powerSupply" || e.Action != "setPoint" {
		t.Errorf("Expected powerSupply/setPoint, got %s/%s", e.Instrument, e.Action)
	}
	if e.Outcome != OutcomeSuccess || e.Code != OutcomeSuccess {
		t.Errorf("Expected success outcome, got %s/%s", e.Outcome, e.Code)
	}
	if e.LatencyMs != 42 {
		t.Errorf("Expected latency 42ms, got %d", e.LatencyMs)
	}
	if e.ID == "" {
		t.Error("Expected entry ID")
	}
	if e.Params["value"] != "12.5" {
		t.Errorf("Expected params preserved, got %v", e.Params)
	}
}

func TestLogActionFailureCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"validation", fmt.Errorf("voltage: %w", adapter.ErrValidation), "VALIDATION"},
		{"timeout", &adapter.ExchangeError{Code: adapter.ErrTimeout, Command: "VOLT 5;"}, "TIMEOUT"},
		{"device", &adapter.SCPIError{Code: -222, Class: adapter.ErrInvalidRange}, "DEVICE"},
		{"unknown", fmt.Errorf("boom"), "INTERNAL"},
	}

	logger := newTestLogger(t)
	for _, tt := range tests {
		logger.LogAction(context.Background(), "signalGenerator", tt.name, nil, tt.err, 0)
	}

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != len(tests) {
		t.Fatalf("Expected %d entries, got %d", len(tests), len(entries))
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entries[i]
			if e.Outcome != OutcomeFailure {
				t.Errorf("Expected FAILURE, got %s", e.Outcome)
			}
			if e.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, e.Code)
			}
			if e.Message != tt.err.Error() {
				t.Errorf("Expected message %q, got %q", tt.err.Error(), e.Message)
			}
			if e.User != "anonymous" {
				t.Errorf("Expected anonymous user, got %s", e.User)
			}
		})
	}
}

func TestConcurrentLogging(t *testing.T) {
	logger := newTestLogger(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.LogAction(context.Background(), "powerSupply", "setOutput",
				map[string]interface{}{"on": i%2 == 0}, nil, time.Millisecond)
		}(i)
	}
	wg.Wait()

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != n {
		t.Errorf("Expected %d entries, got %d", n, len(entries))
	}

	ids := make(map[string]bool)
	for _, e := range entries {
		if ids[e.ID] {
			t.Errorf("Duplicate entry ID %s", e.ID)
		}
		ids[e.ID] = true
	}
}

func TestRotate(t *testing.T) {
	logger := newTestLogger(t)

	logger.LogAction(context.Background(), "powerSupply", "reset", nil, nil, 0)
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logger.LogAction(context.Background(), "powerSupply", "identify", nil, nil, 0)

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != 1 || entries[0].Action != "identify" {
		t.Errorf("Expected only the post-rotation entry, got %+v", entries)
	}

	files, err := filepath.Glob(filepath.Join(filepath.Dir(logger.GetFilePath()), "audit-*.jsonl"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Expected 1 backup file, got %d", len(files))
	}
}

func TestUserFromContext(t *testing.T) {
	if got := UserFromContext(context.Background()); got != "anonymous" {
		t.Errorf("Expected anonymous, got %s", got)
	}
	if got := UserFromContext(WithUser(context.Background(), "")); got != "anonymous" {
		t.Errorf("Expected anonymous for empty user, got %s", got)
	}
	if got := UserFromContext(WithUser(context.Background(), "alice")); got != "alice" {
		t.Errorf("Expected alice, got %s", got)
	}
}
