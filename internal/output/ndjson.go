// Package output renders machine-readable progress for agents and scripts.
package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/vburojevic/roborec/internal/domain"
)

// SchemaVersion is bumped on incompatible changes to any NDJSON line.
const SchemaVersion = 1

// ErrorOutput is emitted for command failures.
type ErrorOutput struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// Warning is emitted for recoverable problems.
type Warning struct {
	Type          string `json:"type"` // "warning"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id,omitempty"`
	Message       string `json:"message"`
}

// Ready is emitted once the target is resolved and recording can begin.
type Ready struct {
	Type          string `json:"type"` // "ready"
	SchemaVersion int    `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
	SessionID     string `json:"session_id"`
	Serial        string `json:"serial"`
	Package       string `json:"package"`
}

// Event is one recorded interaction as shown on the surface.
type Event struct {
	Type            string           `json:"type"` // "event"
	SchemaVersion   int              `json:"schemaVersion"`
	SessionID       string           `json:"session_id,omitempty"`
	EventType       domain.EventType `json:"event_type"`
	Timestamp       int64            `json:"timestamp"`
	ActionCode      int              `json:"action_code"`
	ReplacementText string           `json:"replacement_text,omitempty"`
	SwipeDirection  string           `json:"swipe_direction,omitempty"`
	Element         string           `json:"element,omitempty"`
	ResourceID      string           `json:"resource_id,omitempty"`
}

// Artifact is emitted when a hierarchy dump or screenshot is stored.
type Artifact struct {
	Type          string              `json:"type"` // "artifact"
	SchemaVersion int                 `json:"schemaVersion"`
	SessionID     string              `json:"session_id,omitempty"`
	Kind          domain.ArtifactKind `json:"kind"`
	Key           string              `json:"key"`
	CapturedAt    string              `json:"captured_at"`
}

// NDJSONWriter writes one JSON object per line. It is safe for concurrent
// use and implements the recording event sink.
type NDJSONWriter struct {
	mu        sync.Mutex
	w         io.Writer
	enc       *json.Encoder
	sessionID string
	err       error
}

// NewNDJSONWriter creates a new NDJSON writer
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w, enc: json.NewEncoder(w)}
}

// WriteRaw encodes v as one line.
func (w *NDJSONWriter) WriteRaw(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		if w.err == nil {
			w.err = err
		}
		return err
	}
	return nil
}

// Err returns the first write error seen by the sink methods.
func (w *NDJSONWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// WriteError writes an error line.
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	out := &ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		out.Hint = hint[0]
	}
	return w.WriteRaw(out)
}

// WriteWarning writes a warning line.
func (w *NDJSONWriter) WriteWarning(message string) error {
	return w.WriteRaw(&Warning{
		Type:          "warning",
		SchemaVersion: SchemaVersion,
		SessionID:     w.session(),
		Message:       message,
	})
}

// WriteReady writes the ready line for a resolved target.
func (w *NDJSONWriter) WriteReady(timestamp, sessionID, serial, pkg string) error {
	return w.WriteRaw(&Ready{
		Type:          "ready",
		SchemaVersion: SchemaVersion,
		Timestamp:     timestamp,
		SessionID:     sessionID,
		Serial:        serial,
		Package:       pkg,
	})
}

// SessionStarted writes session_start followed by ready.
func (w *NDJSONWriter) SessionStarted(s domain.Session) {
	w.mu.Lock()
	w.sessionID = s.ID
	w.mu.Unlock()

	start := domain.NewSessionStart(s)
	if w.WriteRaw(start) != nil {
		return
	}
	_ = w.WriteReady(start.Timestamp, s.ID, s.Target.Serial, s.Target.Package)
}

// EventRecorded writes an event line.
func (w *NDJSONWriter) EventRecorded(ev domain.InteractionEvent) {
	out := &Event{
		Type:            "event",
		SchemaVersion:   SchemaVersion,
		SessionID:       w.session(),
		EventType:       ev.EventType,
		Timestamp:       ev.Timestamp,
		ActionCode:      ev.ActionCode,
		ReplacementText: ev.ReplacementText,
		SwipeDirection:  ev.SwipeDirection,
	}
	if len(ev.ElementDescriptors) > 0 {
		out.Element = ev.ElementDescriptors[0].ClassName
		out.ResourceID = ev.ElementDescriptors[0].ResourceID
	}
	_ = w.WriteRaw(out)
}

// ArtifactCaptured writes an artifact line.
func (w *NDJSONWriter) ArtifactCaptured(a domain.Artifact) {
	_ = w.WriteRaw(&Artifact{
		Type:          "artifact",
		SchemaVersion: SchemaVersion,
		SessionID:     w.session(),
		Kind:          a.Kind,
		Key:           a.Key,
		CapturedAt:    a.CapturedAt.UTC().Format(time.RFC3339Nano),
	})
}

// Warning writes a warning line.
func (w *NDJSONWriter) Warning(message string) {
	_ = w.WriteWarning(message)
}

// SessionEnded writes the session_end line.
func (w *NDJSONWriter) SessionEnded(end *domain.SessionEnd) {
	_ = w.WriteRaw(end)
}

func (w *NDJSONWriter) session() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}
