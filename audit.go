package authchain

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the pipeline.
const (
	AuditAttemptStarted    = "attempt.started"
	AuditStepSucceeded     = "step.succeeded"
	AuditStepFailed        = "step.failed"
	AuditInputRejected     = "step.input_rejected"
	AuditChainCompleted    = "chain.completed"
	AuditElevationGranted  = "chain.elevated"
	AuditCodeIssued        = "email_code.issued"
	AuditDeliveryFailed    = "email_code.delivery_failed"
	AuditEnrollStarted     = "authenticator.enrollment_started"
	AuditEnrollConfirmed   = "authenticator.enrollment_confirmed"
	AuditBackupCodeUsed    = "authenticator.backup_code_used"
	AuditBackupCodesReset  = "authenticator.backup_codes_regenerated"
	AuditAccessDenied      = "ip.denied"
	AuditGrantIssued       = "grant.issued"
	AuditInfrastructureErr = "step.infrastructure_error"
)

// AuditEvent is one pipeline occurrence handed to the configured
// [AuditSink]. Events for placeholder principals are emitted with the same
// shape and cadence as events for real ones.
type AuditEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	AttemptID   string            `json:"attempt_id,omitempty"`
	StepID      string            `json:"step_id,omitempty"`
	PrincipalID string            `json:"principal_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives pipeline audit events from the dispatcher goroutine.
// Emit must not block indefinitely.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel, for consumers that
// process audit events in their own goroutine.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the wrapped writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
