// Package audit records one event per completed request: which worker ran,
// against which path, with what status and duration. Sinks (stdout, file,
// HTTP, batched) are pluggable via the EventWriter interface so a deployment
// can forward events to a collector without the server package knowing
// about it.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType classifies an audit event.
type EventType string

const (
	// EventTypeRequest records a completed worker dispatch (ping, stat, cksum, wait).
	EventTypeRequest EventType = "request"
	// EventTypeAuthFailure records a handshake rejection.
	EventTypeAuthFailure EventType = "auth_failure"
)

// Event is a single audit record.
type Event struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     EventType              `json:"event_type"`
	Worker        string                 `json:"worker,omitempty"`
	Path          string                 `json:"path,omitempty"`
	Algorithm     string                 `json:"algorithm,omitempty"`
	RemoteAddr    string                 `json:"remote_addr,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Status        int                    `json:"status"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	Duration      time.Duration          `json:"duration_ms"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface the request server reports completed requests to.
type Logger interface {
	LogRequest(worker, path, algorithm, remoteAddr, correlationID string, status int, err error, duration time.Duration)
	LogAuthFailure(remoteAddr string, err error)
	GetEvents() []*Event
	Close() error
}

type auditLogger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// EventWriter is the pluggable sink an auditLogger forwards events to.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// NewLogger returns a Logger that buffers up to maxEvents recent events in
// memory and forwards each one to writer. A nil writer defaults to stdout.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = &StdoutSink{}
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &auditLogger{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

func (l *auditLogger) log(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
}

func (l *auditLogger) LogRequest(worker, path, algorithm, remoteAddr, correlationID string, status int, err error, duration time.Duration) {
	event := &Event{
		Timestamp:     time.Now(),
		EventType:     EventTypeRequest,
		Worker:        worker,
		Path:          path,
		Algorithm:     algorithm,
		RemoteAddr:    remoteAddr,
		CorrelationID: correlationID,
		Status:        status,
		Success:       err == nil,
		Duration:      duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.log(event)
}

func (l *auditLogger) LogAuthFailure(remoteAddr string, err error) {
	event := &Event{
		Timestamp:  time.Now(),
		EventType:  EventTypeAuthFailure,
		RemoteAddr: remoteAddr,
		Success:    false,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.log(event)
}

// GetEvents returns a copy of the buffered events, most recent last.
func (l *auditLogger) GetEvents() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}

// Close closes the underlying writer, if it supports closing.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// StdoutSink writes one JSON line per event to stdout; the default writer.
type StdoutSink struct{}

func (w *StdoutSink) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
