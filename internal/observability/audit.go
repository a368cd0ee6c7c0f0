package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventAnalysisStart    AuditEventType = "analysis.start"
	AuditEventAnalysisComplete AuditEventType = "analysis.complete"
	AuditEventAnalysisError    AuditEventType = "analysis.error"
	AuditEventSnapshotSave     AuditEventType = "snapshot.save"
	AuditEventSnapshotDelete   AuditEventType = "snapshot.delete"
	AuditEventGraphStore       AuditEventType = "graph.store"
	AuditEventVectorPublish    AuditEventType = "vector.publish"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	Namespace   string         `json:"namespace,omitempty"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger appends JSON lines to a writer. A nil *AuditLogger discards
// everything.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // file path or "stdout"/"stderr"
	SessionID  string
}

// NewAuditLogger opens the configured output. A missing session id is
// replaced with a random UUID.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = &AuditConfig{Enabled: true, OutputPath: "stdout"}
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogAnalysisStart records the start of a namespace analysis.
func (l *AuditLogger) LogAnalysisStart(namespace string, maxDepth, maxCycles int, timeout time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnalysisStart,
		Namespace: namespace,
		Success:   true,
		Message:   fmt.Sprintf("Analysis of %s started", namespace),
		Details: map[string]any{
			"max_depth":  maxDepth,
			"max_cycles": maxCycles,
			"timeout_ms": timeout.Milliseconds(),
		},
	})
}

// LogAnalysisComplete records a finished analysis.
func (l *AuditLogger) LogAnalysisComplete(namespace string, duration time.Duration, files, cycleCount int, truncated, timedOut bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnalysisComplete,
		Namespace: namespace,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Analysis of %s found %d cycles", namespace, cycleCount),
		Details: map[string]any{
			"files":     files,
			"cycles":    cycleCount,
			"truncated": truncated,
			"timed_out": timedOut,
		},
	})
}

// LogAnalysisError records a failed analysis.
func (l *AuditLogger) LogAnalysisError(namespace string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventAnalysisError,
		Namespace:   namespace,
		Success:     false,
		Message:     fmt.Sprintf("Analysis of %s failed", namespace),
		ErrorDetail: err.Error(),
	})
}

// LogSnapshot records a snapshot save or delete.
func (l *AuditLogger) LogSnapshot(eventType AuditEventType, namespace, snapshotID string) {
	l.Log(&AuditEvent{
		EventType: eventType,
		Namespace: namespace,
		Success:   true,
		Message:   fmt.Sprintf("Snapshot %s", snapshotID),
		Details:   map[string]any{"snapshot_id": snapshotID},
	})
}

// LogExport records a push to an external store (graph.store or vector.publish).
func (l *AuditLogger) LogExport(eventType AuditEventType, namespace string, count int, err error) {
	event := &AuditEvent{
		EventType: eventType,
		Namespace: namespace,
		Success:   err == nil,
		Message:   fmt.Sprintf("Exported %d items", count),
		Details:   map[string]any{"count": count},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
