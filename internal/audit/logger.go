package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/config"
)

// Outcome values recorded on each entry.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// FileName is the audit log name inside the configured directory.
const FileName = "audit.jsonl"

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp  time.Time              `json:"ts"`
	ID         string                 `json:"id"`
	User       string                 `json:"user"`
	Instrument string                 `json:"instrument"`
	Action     string                 `json:"action"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Outcome    string                 `json:"outcome"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message,omitempty"`
	LatencyMs  int64                  `json:"latencyMs"`
}

// Logger appends audit entries to a rotating JSON-lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
}

// NewLogger creates an audit logger writing to cfg.Dir/audit.jsonl.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  false,
		},
	}, nil
}

// LogAction records one action. A nil err records success; otherwise the
// normalized error code and message are recorded.
func (l *Logger) LogAction(ctx context.Context, instrument, action string, params map[string]interface{}, err error, latency time.Duration) {
	entry := Entry{
		Timestamp:  time.Now().UTC(),
		ID:         uuid.NewString(),
		User:       UserFromContext(ctx),
		Instrument: instrument,
		Action:     action,
		Params:     params,
		Outcome:    OutcomeSuccess,
		Code:       OutcomeSuccess,
		LatencyMs:  latency.Milliseconds(),
	}
	if err != nil {
		entry.Outcome = OutcomeFailure
		entry.Code = adapter.CodeOf(err)
		entry.Message = err.Error()
	}

	l.writeEntry(entry)
}

// writeEntry writes an audit entry to the log file. Write failures go to
// the service log; an audit failure never fails the action itself.
func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal audit entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.out.Write(append(data, '\n')); err != nil {
		log.Printf("Failed to write audit entry: %v", err)
	}
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// GetFilePath returns the path to the active audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

type userKey struct{}

// WithUser returns a context carrying the acting user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the acting user, or "anonymous" when none is set.
func UserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userKey{}).(string); ok && user != "" {
		return user
	}
	return "anonymous"
}
